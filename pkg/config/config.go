// Package config loads the client configuration from YAML.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/secure-coap/edhoc-go/pkg/cred"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	"github.com/secure-coap/edhoc-go/pkg/exchange"
	"github.com/secure-coap/edhoc-go/pkg/oscore"
)

// Defaults.
const (
	DefaultPeer           = "127.0.0.1:5683"
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultLogLevel       = "info"
	RandomSubject         = "random-identity"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the client configuration. It is immutable once the client
// has started.
type Config struct {
	// Peer is host:port of the responder. Ignored when discovery is on.
	Peer string `yaml:"peer"`

	Discovery Discovery `yaml:"discovery"`

	// Trusted lists responder credentials as hex CCS.
	Trusted []string `yaml:"trusted"`

	// Credential and PrivateKey are the own hex CCS and raw P-256 scalar.
	Credential string `yaml:"credential"`
	PrivateKey string `yaml:"private_key"`

	// RandomIdentity replaces the own credential with a fresh key pair
	// that is always sent by value.
	RandomIdentity bool `yaml:"random_identity"`

	// TransferMode is "by-reference" or "by-value".
	TransferMode string `yaml:"transfer_mode"`

	// Suites is SUITES_I in preference order, the selected suite last.
	Suites []int `yaml:"suites"`

	// ReleaseUnsent returns sequence numbers of requests the transport
	// never sent.
	ReleaseUnsent bool `yaml:"release_unsent"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// KeepAlive is the ping interval; zero disables pings.
	KeepAlive time.Duration `yaml:"keepalive"`

	// ProtocolLog is the path of the protocol event capture. Empty
	// disables it.
	ProtocolLog string `yaml:"protocol_log"`

	LogLevel string `yaml:"log_level"`
}

// Discovery selects the peer by mDNS instead of a fixed address.
type Discovery struct {
	Enabled   bool          `yaml:"enabled"`
	Instance  string        `yaml:"instance"`
	Interface string        `yaml:"interface"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Peer:           DefaultPeer,
		TransferMode:   edhoc.ByReference.String(),
		Suites:         []int{edhoc.SuiteCCM64},
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
		LogLevel:       DefaultLogLevel,
	}
}

// LoadError reports a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and the consistency between them.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if !c.Discovery.Enabled && c.Peer == "" {
		add("peer is required unless discovery is enabled")
	}
	if len(c.Trusted) == 0 {
		add("at least one trusted credential is required")
	}
	if _, err := c.TrustStore(); err != nil {
		add("trusted: %v", err)
	}
	if c.RandomIdentity {
		if c.Credential != "" || c.PrivateKey != "" {
			add("random_identity excludes credential and private_key")
		}
	} else {
		if c.Credential == "" || c.PrivateKey == "" {
			add("credential and private_key are required unless random_identity is set")
		} else if _, err := c.Identity(); err != nil {
			add("identity: %v", err)
		}
	}
	if _, ok := edhoc.ParseTransferMode(c.TransferMode); !ok {
		add("unknown transfer_mode %q", c.TransferMode)
	}
	if len(c.Suites) == 0 {
		add("suites must not be empty")
	}
	for _, s := range c.Suites {
		if _, err := edhoc.LookupSuite(s); err != nil {
			add("suite %d: %v", s, err)
		}
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 || c.KeepAlive < 0 || c.Discovery.Timeout < 0 {
		add("durations must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		add("log_level: %v", err)
	}
	return errors.Join(errs...)
}

// TrustStore builds the responder trust store.
func (c *Config) TrustStore() (*cred.Store, error) {
	creds := make([]*cred.Credential, 0, len(c.Trusted))
	for i, h := range c.Trusted {
		raw, err := decodeHex(h)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		cr, err := cred.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		creds = append(creds, cr)
	}
	return cred.NewStore(creds...)
}

// Identity returns the own identity. With RandomIdentity every call
// generates a new key pair.
func (c *Config) Identity() (*cred.Identity, error) {
	if c.RandomIdentity {
		return cred.GenerateIdentity(RandomSubject, nil)
	}
	rawCred, err := decodeHex(c.Credential)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	rawKey, err := decodeHex(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private_key: %w", err)
	}
	cr, err := cred.Parse(rawCred)
	if err != nil {
		return nil, err
	}
	return cred.NewIdentity(cr, rawKey)
}

// Mode returns the credential transfer mode. A random identity has no
// kid the peer could know, so it is always sent by value.
func (c *Config) Mode() edhoc.TransferMode {
	if c.RandomIdentity {
		return edhoc.ByValue
	}
	m, _ := edhoc.ParseTransferMode(c.TransferMode)
	return m
}

// CommitPolicy returns the OSCORE sequence commit policy.
func (c *Config) CommitPolicy() oscore.CommitPolicy {
	if c.ReleaseUnsent {
		return oscore.ReleaseUnsent{}
	}
	return oscore.ConsumeOnProtect{}
}

// Exchange builds the coordinator configuration for peer.
func (c *Config) Exchange(peer string) (exchange.Config, error) {
	id, err := c.Identity()
	if err != nil {
		return exchange.Config{}, err
	}
	return exchange.Config{
		Peer:         peer,
		Identity:     id,
		TransferMode: c.Mode(),
		Suites:       append([]int(nil), c.Suites...),
		CommitPolicy: c.CommitPolicy(),
	}, nil
}

// Level returns the logrus level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func decodeHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
