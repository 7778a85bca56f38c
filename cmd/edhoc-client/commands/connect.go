package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Run the handshake and fetch the demo resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, cfg)
			if err != nil {
				return fail(cmd, err)
			}
			defer s.Close()

			if err := establish(ctx, s, cmd.OutOrStdout()); err != nil {
				return fail(cmd, err)
			}

			reqCtx, cancel := requestContext(ctx)
			defer cancel()
			if err := runDemo(reqCtx, s.coord, cmd.OutOrStdout()); err != nil {
				return fail(cmd, err)
			}
			return nil
		},
	}
}

// establish runs the handshake within the connect timeout.
func establish(ctx context.Context, s *session, w io.Writer) error {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := s.coord.Establish(ctx); err != nil {
		fmt.Fprintf(w, "handshake with %s: %s\n", s.peer, classify(err))
		return err
	}
	device := "unknown"
	if p := s.coord.Peer(); p != nil {
		device = p.Subject()
	}
	fmt.Fprintf(w, "secure channel to %s established (device %q)\n", s.peer, device)
	return nil
}

func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}
