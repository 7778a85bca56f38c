package log

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrTruncated is returned when a file ends inside an event, as it does
// when the writer died before flushing.
var ErrTruncated = errors.New("log: truncated event")

// Filter selects events. Zero fields match everything.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	// PeerKID is the lower-case hex kid of the peer.
	PeerKID string
}

// Match reports whether event passes every set criterion.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID,
		f.PeerKID != "" && event.PeerKID != f.PeerKID,
		f.Direction != nil && event.Direction != *f.Direction,
		f.Layer != nil && event.Layer != *f.Layer,
		f.Category != nil && event.Category != *f.Category,
		f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart),
		f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader iterates over the events of a log file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
	n      int
}

// NewReader opens path and yields every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens path and yields the events filter matches.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: eventDec.NewDecoder(bufio.NewReader(f)), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.dec.Decode(&event)
		switch {
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Event{}, fmt.Errorf("%w after %d events", ErrTruncated, r.n)
		case err != nil:
			return Event{}, fmt.Errorf("log: event %d: %w", r.n, err)
		}
		r.n++
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll returns the matching events of path. On a decode error it
// returns the events read so far together with the error.
func ReadAll(path string, filter Filter) ([]Event, error) {
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var events []Event
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// Stats summarizes a sequence of events.
type Stats struct {
	Total       int
	ByLayer     map[Layer]int
	ByCategory  map[Category]int
	Connections int
	Errors      int
}

// Summarize counts events per layer and category.
func Summarize(events []Event) Stats {
	s := Stats{ByLayer: make(map[Layer]int), ByCategory: make(map[Category]int)}
	conns := make(map[string]struct{})
	for _, e := range events {
		s.Total++
		s.ByLayer[e.Layer]++
		s.ByCategory[e.Category]++
		conns[e.ConnectionID] = struct{}{}
		if e.Error != nil {
			s.Errors++
		}
	}
	s.Connections = len(conns)
	return s
}
