// Package commands implements the edhoc-client CLI commands.
package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/secure-coap/edhoc-go/pkg/config"
)

// options holds the global flags. Set flags override the file.
type options struct {
	configPath     string
	peer           string
	discover       string
	randomIdentity bool
	transferMode   string
	protocolLog    string
	logLevel       string
}

var (
	opts   options
	cfg    *config.Config
	logger = logrus.New()
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "edhoc-client",
		Short:         "EDHOC initiator and OSCORE client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd)
			if err != nil {
				return fail(cmd, err)
			}
			cfg = loaded
			logger.SetOutput(cmd.ErrOrStderr())
			logger.SetLevel(cfg.Level())
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&opts.peer, "peer", "", "device address host:port")
	f.StringVar(&opts.discover, "discover", "", "resolve the device by mDNS instance name")
	f.BoolVar(&opts.randomIdentity, "random-identity", false, "use a fresh identity sent by value")
	f.StringVar(&opts.transferMode, "transfer-mode", "", "credential transfer: by-reference or by-value")
	f.StringVar(&opts.protocolLog, "protocol-log", "", "write protocol events to this file")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(connectCmd(), consoleCmd(), logCmd())
	return root
}

// loadConfig reads the file (or the defaults) and applies the flags that
// were set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.Default()
	if opts.configPath != "" {
		var err error
		if c, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("peer") {
		c.Peer = opts.peer
	}
	if flags.Changed("discover") {
		c.Discovery.Enabled = true
		c.Discovery.Instance = opts.discover
	}
	if flags.Changed("random-identity") {
		c.RandomIdentity = opts.randomIdentity
		if c.RandomIdentity {
			c.Credential, c.PrivateKey = "", ""
		}
	}
	if flags.Changed("transfer-mode") {
		c.TransferMode = opts.transferMode
	}
	if flags.Changed("protocol-log") {
		c.ProtocolLog = opts.protocolLog
	}
	if flags.Changed("log-level") {
		c.LogLevel = opts.logLevel
	}
	return c, nil
}

// fail prints err and returns it so the process exits non-zero.
func fail(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	return err
}
