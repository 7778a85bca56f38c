package log

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// A log file is a CBOR sequence (RFC 8742) of Events. Timestamps are
// RFC 3339 text with nanoseconds: a request and its response usually fall
// into the same microsecond.
var (
	eventEnc cbor.EncMode
	eventDec cbor.DecMode
)

func init() {
	var err error
	eventEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: event encoder: %v", err))
	}

	// Newer writers may add payload keys; old readers skip them.
	eventDec, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		MaxNestedLevels:   16,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: event decoder: %v", err))
	}
}

// EncodeEvent returns the CBOR encoding of one event.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEnc.Marshal(event)
}

// DecodeEvent decodes exactly one event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	rest, err := eventDec.UnmarshalFirst(data, &event)
	if err != nil {
		return Event{}, err
	}
	if len(rest) != 0 {
		return Event{}, fmt.Errorf("log: %d trailing bytes after event", len(rest))
	}
	return event, nil
}
