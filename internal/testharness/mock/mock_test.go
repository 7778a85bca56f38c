package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/secure-coap/edhoc-go/internal/testharness/mock"
	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	"github.com/secure-coap/edhoc-go/pkg/protoerr"
)

func sendMessage1(t *testing.T, d *mock.Device, suites []int) (*edhoc.Initiator, *coap.Message) {
	t.Helper()
	init, err := edhoc.NewInitiator(edhoc.InitiatorConfig{Suites: suites})
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	m1, err := init.PrepareMessage1(edhoc.ConnID{0x05})
	if err != nil {
		t.Fatalf("PrepareMessage1: %v", err)
	}
	req := coap.NewRequest(coap.POST, mock.EDHOCPath)
	req.Payload = append([]byte{0xf5}, m1...)
	return init, d.Handle(req)
}

func TestDeviceAnswersMessage1(t *testing.T) {
	d := mock.NewDevice("device-1")
	init, resp := sendMessage1(t, d, nil)

	if resp.Code != coap.Changed {
		t.Fatalf("Expected 2.04, got %s", resp.Code)
	}
	m2, err := init.ParseMessage2(resp.Payload)
	if err != nil {
		t.Fatalf("ParseMessage2: %v", err)
	}
	if m2.CR.Equal(edhoc.ConnID{0x05}) {
		t.Error("Device picked C_R equal to C_I")
	}
	if got := m2.IDCred.KID; len(got) != 1 || got[0] != 0x0a {
		t.Errorf("Expected kid 0a, got %x", got)
	}
}

func TestDeviceRejectsWrongSuite(t *testing.T) {
	d := mock.NewDevice("device-1")
	init, resp := sendMessage1(t, d, []int{edhoc.SuiteCCM128})

	if resp.Code != coap.BadRequest {
		t.Fatalf("Expected 4.00, got %s", resp.Code)
	}
	_, err := init.ParseMessage2(resp.Payload)
	if !errors.Is(err, protoerr.ErrUnsupportedSuite) {
		t.Errorf("Expected unsupported suite, got %v", err)
	}
}

func TestDeviceRejectsMalformedEDHOCRequest(t *testing.T) {
	d := mock.NewDevice("device-1")

	req := coap.NewRequest(coap.POST, mock.EDHOCPath)
	req.Payload = []byte{0x03}
	if resp := d.Handle(req); resp.Code != coap.BadRequest {
		t.Errorf("Expected 4.00, got %s", resp.Code)
	}

	get := coap.NewRequest(coap.GET, mock.EDHOCPath)
	if resp := d.Handle(get); resp.Code != coap.MethodNotAllowed {
		t.Errorf("Expected 4.05, got %s", resp.Code)
	}
}

func TestDeviceUnprotectedAccess(t *testing.T) {
	d := mock.NewDevice("device-1")

	if resp := d.Handle(coap.NewRequest(coap.GET, "/.well-known/core")); resp.Code != coap.Content {
		t.Errorf("Expected 2.05 for discovery, got %s", resp.Code)
	}
	if resp := d.Handle(coap.NewRequest(coap.GET, "/stdout")); resp.Code != coap.Unauthorized {
		t.Errorf("Expected 4.01 for /stdout, got %s", resp.Code)
	}

	msgs := d.GetMessages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 recorded messages, got %d", len(msgs))
	}
	if msgs[1].Path != "/stdout" || msgs[1].Protected {
		t.Errorf("Unexpected record %+v", msgs[1])
	}

	d.ClearMessages()
	if len(d.GetMessages()) != 0 {
		t.Error("Expected no messages after clear")
	}
}

func TestDeviceUnknownContext(t *testing.T) {
	d := mock.NewDevice("device-1")

	req := coap.NewRequest(coap.POST, "")
	req.Options = req.Options.Set(coap.Option{ID: coap.OSCORE, Value: []byte{0x09, 0x00, 0x07}})
	req.Payload = []byte{0x01, 0x02}

	if resp := d.Handle(req); resp.Code != coap.Unauthorized {
		t.Errorf("Expected 4.01, got %s", resp.Code)
	}
}

func TestScope(t *testing.T) {
	admin := mock.AdminScope()
	guest := mock.GuestScope()

	if !admin.Allows("/stdout", coap.GET) || !admin.Allows("/stdout", coap.FETCH) {
		t.Error("Admin scope must allow reading /stdout")
	}
	if admin.Allows("/stdout", coap.PUT) {
		t.Error("Admin scope must not allow PUT /stdout")
	}
	if guest.Allows("/stdout", coap.GET) {
		t.Error("Guest scope must not allow /stdout")
	}
	if !guest.Allows("/poem", coap.GET) {
		t.Error("Guest scope must allow /poem")
	}
	if guest.Allows("/poem", coap.Content) {
		t.Error("Response codes are never allowed")
	}
}

func TestLinkFaults(t *testing.T) {
	d := mock.NewDevice("device-1")
	link := mock.NewLink(d)
	ctx := context.Background()

	link.SetDown(true)
	_, err := link.Exchange(ctx, "peer", coap.NewRequest(coap.GET, "/.well-known/core"))
	if !errors.Is(err, protoerr.ErrNotSent) || !errors.Is(err, mock.ErrLinkDown) {
		t.Errorf("Expected not-sent link error, got %v", err)
	}
	if len(link.Sent()) != 0 {
		t.Error("Down link must not record requests")
	}

	link.SetDown(false)
	link.DropResponses(1)
	_, err = link.Exchange(ctx, "peer", coap.NewRequest(coap.GET, "/.well-known/core"))
	if !errors.Is(err, mock.ErrResponseLost) {
		t.Errorf("Expected lost response, got %v", err)
	}
	if len(d.GetMessages()) != 1 {
		t.Error("Dropped response must still reach the device")
	}

	resp, err := link.Exchange(ctx, "peer", coap.NewRequest(coap.GET, "/.well-known/core"))
	if err != nil || resp.Code != coap.Content {
		t.Errorf("Expected 2.05, got %v %v", resp, err)
	}

	if again := link.Resend(1); again.Code != coap.Content {
		t.Errorf("Expected resend to reach the device, got %s", again.Code)
	}
}

func TestDeviceExchangeHonorsContext(t *testing.T) {
	d := mock.NewDevice("device-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Exchange(ctx, "peer", coap.NewRequest(coap.GET, "/poem")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
