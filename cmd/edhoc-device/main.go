// Command edhoc-device is a demo EDHOC responder and OSCORE server.
//
// It serves the built-in simulated device over the TCP transport and
// advertises it by mDNS, so edhoc-client can be tried without hardware.
// The device identity is the fixed test credential (kid 0x0a).
//
// Usage:
//
//	edhoc-device [flags]
//
// Flags:
//
//	-listen string        Listen address (default "127.0.0.1:5683")
//	-instance string      mDNS instance name (default "edhoc-device")
//	-advertise            Advertise the device by mDNS
//	-interface string     Restrict advertising to one network interface
//	-suites string        Comma-separated cipher suites (default "2")
//	-protocol-log string  Write protocol events to this file
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Serve on the default address
//	edhoc-device
//
//	# Serve on all interfaces and advertise on eth0
//	edhoc-device -listen :5683 -advertise -interface eth0 -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/secure-coap/edhoc-go/internal/testharness/mock"
	"github.com/secure-coap/edhoc-go/pkg/discovery"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	plog "github.com/secure-coap/edhoc-go/pkg/log"
	"github.com/secure-coap/edhoc-go/pkg/transport"
)

// Config holds the command-line configuration.
type Config struct {
	Listen      string
	Instance    string
	Advertise   bool
	Interface   string
	Suites      string
	ProtocolLog string
	LogLevel    string
}

func main() {
	var config Config
	flag.StringVar(&config.Listen, "listen", transport.DefaultAddress, "Listen address")
	flag.StringVar(&config.Instance, "instance", "edhoc-device", "mDNS instance name")
	flag.BoolVar(&config.Advertise, "advertise", false, "Advertise the device by mDNS")
	flag.StringVar(&config.Interface, "interface", "", "Restrict advertising to one network interface")
	flag.StringVar(&config.Suites, "suites", strconv.Itoa(edhoc.SuiteCCM64), "Comma-separated cipher suites")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		logger.Fatalf("Invalid log level %q", config.LogLevel)
	}
	logger.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, config, logger); err != nil {
		logger.WithError(err).Error("Device stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, config Config, logger *logrus.Logger) error {
	suites, err := parseSuites(config.Suites)
	if err != nil {
		return err
	}

	pl, closeLog, err := protocolLogger(config.ProtocolLog, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	device := mock.NewDevice("edhoc-device", mock.WithSuites(suites...))
	srv, err := transport.NewServer(transport.ServerConfig{
		Address: config.Listen,
		Handler: device,
		Logger:  pl,
		Log:     logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Stop()
	logger.WithField("addr", srv.Addr().String()).Info("Device listening")

	if config.Advertise {
		adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{Interface: config.Interface})
		if err := adv.Advertise(ctx, serviceInfo(config.Instance, srv.Addr(), suites)); err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
		defer adv.Stop()
		logger.WithField("instance", config.Instance).Info("Advertising via mDNS")
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

func protocolLogger(path string, logger *logrus.Logger) (plog.Logger, func(), error) {
	var loggers []plog.Logger
	closeLog := func() {}
	if path != "" {
		file, err := plog.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		loggers = append(loggers, file)
		closeLog = func() { _ = file.Close() }
	}
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		loggers = append(loggers, plog.NewLogrusAdapter(logger))
	}
	if len(loggers) == 0 {
		return plog.NoopLogger{}, closeLog, nil
	}
	return plog.NewMultiLogger(loggers...), closeLog, nil
}

func parseSuites(s string) ([]int, error) {
	var suites []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid suite %q", field)
		}
		suites = append(suites, n)
	}
	return suites, nil
}

// serviceInfo describes the listening device for mDNS.
func serviceInfo(instance string, addr net.Addr, suites []int) *discovery.ServiceInfo {
	info := &discovery.ServiceInfo{
		Instance: instance,
		KID:      mock.ResponderIdentity().Credential.KID(),
		Suites:   suites,
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		info.Port = uint16(tcp.Port)
	}
	if len(info.Suites) == 0 {
		info.Suites = []int{edhoc.SuiteCCM64}
	}
	return info
}
