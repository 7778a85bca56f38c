package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrConnectionClosed is returned once the manager has been closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrConnectFailed is returned when every dial attempt failed.
	ErrConnectFailed = errors.New("connect failed")
)

// DefaultMaxAttempts is the number of dials a single Connect call makes.
const DefaultMaxAttempts = 3

// State is the lifecycle state of a managed connection.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the state name used in protocol logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc dials once. It returns nil when the connection is usable.
type ConnectFunc func(ctx context.Context) error

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff replaces the default backoff.
func WithBackoff(b *Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithMaxAttempts bounds the dials per Connect call. Zero means retry until
// the context ends.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithStateObserver is called after every state transition.
func WithStateObserver(fn func(oldState, newState State)) Option {
	return func(m *Manager) { m.onStateChange = fn }
}

// Manager dials on demand. Lost connections are re-established by the next
// Connect call, waiting out the backoff between failed dials.
type Manager struct {
	connectFn     ConnectFunc
	backoff       *Backoff
	maxAttempts   int
	onStateChange func(oldState, newState State)

	dialMu sync.Mutex // serializes Connect
	mu     sync.Mutex
	state  State
}

// NewManager creates a disconnected manager.
func NewManager(connectFn ConnectFunc, opts ...Option) *Manager {
	m := &Manager{
		connectFn:   connectFn,
		backoff:     NewBackoff(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the last dial succeeded and no loss was
// reported since.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect returns immediately when connected. Otherwise it dials, retrying
// with backoff until a dial succeeds, the attempts are used up or ctx ends.
// The backoff is only reset by a successful dial, so repeated failing
// Connect calls keep backing off.
func (m *Manager) Connect(ctx context.Context) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	switch m.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrConnectionClosed
	}

	next := StateConnecting
	if m.backoff.Attempts() > 0 {
		next = StateReconnecting
	}
	m.transition(next)

	for attempt := 1; ; attempt++ {
		err := m.connectFn(ctx)
		if err == nil {
			m.backoff.Reset()
			if !m.transition(StateConnected) {
				return ErrConnectionClosed
			}
			return nil
		}
		if ctx.Err() != nil || (m.maxAttempts > 0 && attempt >= m.maxAttempts) {
			m.transition(StateDisconnected)
			return fmt.Errorf("%w after %d attempts: %w", ErrConnectFailed, attempt, err)
		}

		m.transition(StateReconnecting)
		timer := time.NewTimer(m.backoff.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			m.transition(StateDisconnected)
			return fmt.Errorf("%w after %d attempts: %w", ErrConnectFailed, attempt, ctx.Err())
		case <-timer.C:
		}
		if m.State() == StateClosed {
			return ErrConnectionClosed
		}
	}
}

// NotifyConnectionLost marks the connection as gone. The next Connect dials
// again.
func (m *Manager) NotifyConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.mu.Unlock()
	m.notify(StateConnected, StateDisconnected)
}

// Close moves the manager to StateClosed for good.
func (m *Manager) Close() {
	m.transition(StateClosed)
}

// BackoffAttempts returns the failed dials since the last success.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

// transition changes state unless the manager is closed.
func (m *Manager) transition(s State) bool {
	m.mu.Lock()
	old := m.state
	if old == StateClosed {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.mu.Unlock()
	if old != s {
		m.notify(old, s)
	}
	return true
}

func (m *Manager) notify(oldState, newState State) {
	if m.onStateChange != nil {
		m.onStateChange(oldState, newState)
	}
}
