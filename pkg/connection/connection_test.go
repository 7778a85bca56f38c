package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{
		Initial: time.Millisecond,
		Max:     4 * time.Millisecond,
		Jitter:  -1,
	})
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Jitter: -1})

		expected := []time.Duration{
			250 * time.Millisecond,
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			8 * time.Second,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("attempt %d: delay = %v, want %v", i, got, exp)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		upper := InitialBackoff + time.Duration(float64(InitialBackoff)*JitterFactor)
		distinct := map[time.Duration]bool{}
		for i := 0; i < 20; i++ {
			d := b.Peek()
			if d < InitialBackoff || d > upper {
				t.Errorf("sample %d: %v outside [%v, %v]", i, d, InitialBackoff, upper)
			}
			distinct[d] = true
		}
		if len(distinct) < 2 {
			t.Error("jittered samples are all identical")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 4; i++ {
			b.Next()
		}
		if b.Current() <= InitialBackoff {
			t.Error("backoff should have grown")
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("Current() after reset = %v, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() after reset = %d, want 0", b.Attempts())
		}
	})

	t.Run("ConfigDefaults", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond, Multiplier: 0.5})
		if b.Current() != time.Second {
			t.Errorf("Current() = %v, want 1s", b.Current())
		}
		b.Next()
		if b.Current() != time.Second {
			t.Errorf("max below initial should clamp to initial, got %v", b.Current())
		}
	})
}

func TestManager(t *testing.T) {
	t.Run("ConnectOnce", func(t *testing.T) {
		var dials atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			dials.Add(1)
			return nil
		})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("second Connect() error = %v", err)
		}
		if dials.Load() != 1 {
			t.Errorf("dials = %d, want 1", dials.Load())
		}
		if !m.IsConnected() {
			t.Error("expected connected state")
		}
	})

	t.Run("RetriesWithBackoff", func(t *testing.T) {
		var dials atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			if dials.Add(1) < 3 {
				return errors.New("refused")
			}
			return nil
		}, WithBackoff(fastBackoff()))

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if dials.Load() != 3 {
			t.Errorf("dials = %d, want 3", dials.Load())
		}
		if m.BackoffAttempts() != 0 {
			t.Errorf("backoff not reset after success: %d", m.BackoffAttempts())
		}
	})

	t.Run("AttemptsExhausted", func(t *testing.T) {
		refused := errors.New("refused")
		var dials atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			dials.Add(1)
			return refused
		}, WithBackoff(fastBackoff()), WithMaxAttempts(2))

		err := m.Connect(context.Background())
		if !errors.Is(err, ErrConnectFailed) || !errors.Is(err, refused) {
			t.Fatalf("Connect() error = %v, want ErrConnectFailed wrapping the dial error", err)
		}
		if dials.Load() != 2 {
			t.Errorf("dials = %d, want 2", dials.Load())
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error {
			return errors.New("refused")
		}, WithBackoff(NewBackoffWithConfig(BackoffConfig{Initial: time.Hour, Jitter: -1})), WithMaxAttempts(0))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := m.Connect(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Connect() error = %v, want deadline exceeded", err)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		m.Close()
		if err := m.Connect(context.Background()); !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("Connect() after Close error = %v", err)
		}
		if m.State() != StateClosed {
			t.Errorf("State() = %v, want CLOSED", m.State())
		}
	})
}

func TestManagerReconnect(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	var dials atomic.Int32

	m := NewManager(func(ctx context.Context) error {
		dials.Add(1)
		return nil
	}, WithStateObserver(func(oldState, newState State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, oldState.String()+">"+newState.String())
	}))

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.NotifyConnectionLost()
	if m.IsConnected() {
		t.Fatal("still connected after loss")
	}
	m.NotifyConnectionLost() // no-op while disconnected

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", dials.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"DISCONNECTED>CONNECTING",
		"CONNECTING>CONNECTED",
		"CONNECTED>DISCONNECTED",
		"DISCONNECTED>CONNECTING",
		"CONNECTING>CONNECTED",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
