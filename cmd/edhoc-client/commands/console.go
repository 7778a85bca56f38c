package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/secure-coap/edhoc-go/pkg/exchange"
)

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive console on one secure channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, cfg)
			if err != nil {
				return fail(cmd, err)
			}
			defer s.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "edhoc> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fail(cmd, fmt.Errorf("failed to create readline: %w", err))
			}
			defer rl.Close()

			// Keep log lines from tearing the prompt.
			logger.SetOutput(rl.Stderr())

			c := newConsole(s, rl.Stdout())
			c.printHelp()
			for {
				if ctx.Err() != nil {
					return nil
				}
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return nil
				}
				if c.exec(ctx, line) {
					return nil
				}
			}
		},
	}
}

// console runs commands against one session.
type console struct {
	s   *session
	out io.Writer
}

func newConsole(s *session, out io.Writer) *console {
	return &console{s: s, out: out}
}

// exec runs one input line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "establish", "e":
		if err := establish(ctx, c.s, c.out); err != nil {
			fmt.Fprintf(c.out, "  %v\n", err)
		}

	case "get", "g":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: get <path>")
			return false
		}
		c.get(ctx, args[0])

	case "demo", "d":
		for _, path := range demoPaths {
			if !c.get(ctx, path) {
				break
			}
		}

	case "state", "s":
		c.printState()

	case "close":
		if err := c.s.coord.Close(); err != nil {
			fmt.Fprintf(c.out, "  %v\n", err)
		}
		c.printState()

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

// get fetches path and reports whether the channel is still usable.
func (c *console) get(ctx context.Context, path string) bool {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	reqCtx, cancel := requestContext(ctx)
	defer cancel()
	return fetch(reqCtx, c.s.coord, path, c.out) == nil
}

func (c *console) printState() {
	state := c.s.coord.State()
	fmt.Fprintf(c.out, "  peer:    %s\n", c.s.peer)
	fmt.Fprintf(c.out, "  channel: %s\n", state)
	if state == exchange.StateAborted {
		fmt.Fprintf(c.out, "  reason:  %v\n", c.s.coord.Err())
	}
	if p := c.s.coord.Peer(); p != nil {
		fmt.Fprintf(c.out, "  device:  %s (kid %x)\n", p.Subject(), p.KID())
	}
	if sec := c.s.coord.SecurityContext(); sec != nil {
		fmt.Fprintf(c.out, "  sender:  %x  recipient: %x\n", sec.SenderID(), sec.RecipientID())
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  establish          - Run the EDHOC handshake
  get <path>         - Fetch a resource over OSCORE
  demo               - Fetch /.well-known/core, /poem and /stdout
  state              - Show channel state
  close              - Close the channel
  quit               - Exit`)
}
