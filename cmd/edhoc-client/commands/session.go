package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/secure-coap/edhoc-go/pkg/config"
	"github.com/secure-coap/edhoc-go/pkg/discovery"
	"github.com/secure-coap/edhoc-go/pkg/exchange"
	plog "github.com/secure-coap/edhoc-go/pkg/log"
	"github.com/secure-coap/edhoc-go/pkg/transport"
)

// session is one secure channel to one device and everything it owns.
type session struct {
	peer   string
	client *transport.Client
	coord  *exchange.Coordinator
	file   *plog.FileLogger
}

// protocolLogger combines the file capture with debug console output.
func protocolLogger(c *config.Config, log logrus.FieldLogger) (plog.Logger, *plog.FileLogger, error) {
	var loggers []plog.Logger
	var file *plog.FileLogger
	if c.ProtocolLog != "" {
		var err error
		if file, err = plog.NewFileLogger(c.ProtocolLog); err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		loggers = append(loggers, file)
	}
	if c.Level() >= logrus.DebugLevel {
		loggers = append(loggers, plog.NewLogrusAdapter(log))
	}
	if len(loggers) == 0 {
		return plog.NoopLogger{}, nil, nil
	}
	return plog.NewMultiLogger(loggers...), file, nil
}

// resolvePeer returns the configured address or the one found by mDNS.
func resolvePeer(ctx context.Context, c *config.Config, browser *discovery.MDNSBrowser) (string, error) {
	if !c.Discovery.Enabled {
		return c.Peer, nil
	}
	defer browser.Stop()
	svc, err := browser.Find(ctx, c.Discovery.Instance)
	if err != nil {
		return "", err
	}
	addr, err := svc.Address()
	if err != nil {
		return "", err
	}
	logger.WithFields(logrus.Fields{
		"instance": svc.Instance,
		"address":  addr,
	}).Info("discovered device")
	return addr, nil
}

func newBrowser(c *config.Config) *discovery.MDNSBrowser {
	bc := discovery.DefaultBrowserConfig()
	if c.Discovery.Timeout > 0 {
		bc.BrowseTimeout = c.Discovery.Timeout
	}
	bc.Interface = c.Discovery.Interface
	return discovery.NewMDNSBrowser(bc)
}

// openSession validates c and wires transport, protocol log and
// coordinator. It does not run the handshake.
func openSession(ctx context.Context, c *config.Config) (*session, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	store, err := c.TrustStore()
	if err != nil {
		return nil, err
	}
	peer, err := resolvePeer(ctx, c, newBrowser(c))
	if err != nil {
		return nil, err
	}
	xc, err := c.Exchange(peer)
	if err != nil {
		return nil, err
	}

	pl, file, err := protocolLogger(c, logger)
	if err != nil {
		return nil, err
	}
	client := transport.NewClient(transport.ClientConfig{
		ConnectTimeout: c.ConnectTimeout,
		KeepAlive:      transport.KeepAliveConfig{PingInterval: c.KeepAlive},
		Logger:         pl,
		Log:            logger,
	})
	coord, err := exchange.New(xc, client, store,
		exchange.WithLogger(logger.WithField("peer", peer)),
		exchange.WithProtocolLogger(pl),
	)
	if err != nil {
		client.Close()
		if file != nil {
			file.Close()
		}
		return nil, err
	}
	return &session{peer: peer, client: client, coord: coord, file: file}, nil
}

// Close tears down the channel, the stream and the protocol log.
func (s *session) Close() error {
	err := errors.Join(s.coord.Close(), s.client.Close())
	if s.file != nil {
		err = errors.Join(err, s.file.Close())
	}
	return err
}
