package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/secure-coap/edhoc-go/pkg/coap"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	plog "github.com/secure-coap/edhoc-go/pkg/log"
)

func (c *Coordinator) event(layer plog.Layer, dir plog.Direction, cat plog.Category) plog.Event {
	return plog.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		LocalRole:    plog.RoleInitiator,
		RemoteAddr:   c.cfg.Peer,
	}
}

func (c *Coordinator) logHandshake(dir plog.Direction, number, suite int, connID edhoc.ConnID, size int, byValue bool) {
	e := c.event(plog.LayerHandshake, dir, plog.CategoryMessage)
	e.Handshake = &plog.HandshakeEvent{
		Number:  number,
		Suite:   suite,
		Size:    size,
		ByValue: byValue,
	}
	if connID != nil {
		e.Handshake.ConnID = connID.String()
	}
	c.plog.Log(e)
}

func (c *Coordinator) logMessage(layer plog.Layer, dir plog.Direction, msg *coap.Message, seq *uint64, rtt time.Duration) {
	e := c.event(layer, dir, plog.CategoryMessage)
	m := &plog.MessageEvent{
		Type:        plog.MessageTypeResponse,
		Code:        msg.Code.String(),
		Token:       msg.Token,
		PayloadSize: len(msg.Payload),
		Sequence:    seq,
		EDHOC:       msg.Options.HasOption(coap.EDHOC),
	}
	if coap.IsRequest(msg.Code) {
		m.Type = plog.MessageTypeRequest
		if layer == plog.LayerApplication {
			m.Path = msg.Path()
		}
	}
	if v, err := msg.Options.GetUint32(coap.Block2); err == nil {
		if b, err := coap.ParseBlock(v); err == nil {
			m.Block = &b.Num
		}
	}
	if rtt > 0 {
		m.ProcessingTime = &rtt
	}
	e.Message = m
	c.plog.Log(e)
}

// logFailure records err and returns it.
func (c *Coordinator) logFailure(layer plog.Layer, err error) error {
	e := c.event(layer, plog.DirectionIn, plog.CategoryError)
	e.Error = &plog.ErrorEventData{Layer: layer, Message: err.Error()}
	var rerr *ResponseError
	if errors.As(err, &rerr) {
		code := int(rerr.Code)
		e.Error.Code = &code
		e.Error.Context = fmt.Sprintf("request %s", rerr.Path)
	}
	c.plog.Log(e)
	return err
}
