package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/exchange"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

// demoPaths are fetched in order by connect and the console demo command.
var demoPaths = []string{"/.well-known/core", "/poem", "/stdout"}

// getter is the part of the coordinator the demo needs.
type getter interface {
	Get(ctx context.Context, path string) (*coap.Message, error)
}

// outcome classifies a failed request for the user.
type outcome string

const (
	outcomeDenied    outcome = "denied"
	outcomeNotReady  outcome = "no secure channel"
	outcomeSecurity  outcome = "security failure"
	outcomeUntrusted outcome = "untrusted device"
	outcomeHandshake outcome = "handshake failed"
	outcomeTransport outcome = "transport failure"
	outcomeOther     outcome = "failed"
)

// classify separates application rejections from security and transport
// problems.
func classify(err error) outcome {
	var re *exchange.ResponseError
	switch {
	case errors.As(err, &re):
		return outcomeDenied
	case errors.Is(err, protoerr.ErrSessionNotReady):
		return outcomeNotReady
	case errors.Is(err, protoerr.ErrUntrustedPeer):
		return outcomeUntrusted
	case protoerr.IsSecurityFailure(err):
		return outcomeSecurity
	case errors.Is(err, protoerr.ErrTransport):
		return outcomeTransport
	case protoerr.IsFatal(err):
		return outcomeHandshake
	default:
		return outcomeOther
	}
}

// fetch runs one GET and prints the payload or the classified failure.
// Only denials leave the channel usable for the next request.
func fetch(ctx context.Context, g getter, path string, w io.Writer) error {
	fmt.Fprintf(w, "GET %s\n", path)
	resp, err := g.Get(ctx, path)
	if err != nil {
		o := classify(err)
		fmt.Fprintf(w, "  %s: %v\n", o, err)
		if o == outcomeDenied {
			return nil
		}
		return err
	}
	fmt.Fprintf(w, "  %s, %d bytes\n", resp.Code, len(resp.Payload))
	if len(resp.Payload) > 0 {
		fmt.Fprintln(w, string(resp.Payload))
	}
	return nil
}

// runDemo fetches demoPaths and stops at the first failure that is not a
// denial.
func runDemo(ctx context.Context, g getter, w io.Writer) error {
	for _, path := range demoPaths {
		if err := fetch(ctx, g, path, w); err != nil {
			return err
		}
	}
	return nil
}
