package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeepAliveConfig(t *testing.T) {
	config := DefaultKeepAliveConfig()

	if config.PingInterval != DefaultPingInterval {
		t.Errorf("PingInterval = %v, want %v", config.PingInterval, DefaultPingInterval)
	}
	if config.PongTimeout != DefaultPongTimeout {
		t.Errorf("PongTimeout = %v, want %v", config.PongTimeout, DefaultPongTimeout)
	}
	if config.MaxMissedPongs != DefaultMaxMissedPongs {
		t.Errorf("MaxMissedPongs = %d, want %d", config.MaxMissedPongs, DefaultMaxMissedPongs)
	}
	if got, want := config.DetectionDelay(), 50*time.Second; got != want {
		t.Errorf("DetectionDelay = %v, want %v", got, want)
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	timedOut := make(chan struct{})
	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 2,
	},
		func(seq uint32) error { return nil },
		func() { close(timedOut) },
	)

	ka.Start(context.Background())
	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("expected timeout")
	}
	if ka.IsRunning() {
		t.Error("keep-alive still running after timeout")
	}
	ka.Stop()
}

func TestKeepAlivePongKeepsConnection(t *testing.T) {
	var timedOut atomic.Bool
	var ka *KeepAlive
	ka = NewKeepAlive(KeepAliveConfig{
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 2,
	},
		func(seq uint32) error {
			go ka.PongReceived(seq)
			return nil
		},
		func() { timedOut.Store(true) },
	)

	ka.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	ka.Stop()

	if timedOut.Load() {
		t.Error("timeout despite answered pings")
	}
	stats := ka.Stats()
	if stats.Sequence < 3 {
		t.Errorf("Sequence = %d, want at least 3 pings", stats.Sequence)
	}
	if stats.MissedPongs != 0 {
		t.Errorf("MissedPongs = %d, want 0", stats.MissedPongs)
	}
	if stats.LastPongTime.IsZero() {
		t.Error("LastPongTime not set")
	}
}

func TestKeepAliveIgnoresStalePong(t *testing.T) {
	var lastSeq atomic.Uint32
	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   time.Hour,
		PongTimeout:    time.Minute,
		MaxMissedPongs: 1,
	},
		func(seq uint32) error {
			lastSeq.Store(seq)
			return nil
		},
		func() {},
	)
	ka.Start(context.Background())
	defer ka.Stop()

	deadline := time.Now().Add(time.Second)
	for lastSeq.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ka.PongReceived(lastSeq.Load() + 5)
	time.Sleep(20 * time.Millisecond)
	if ka.Stats().LastRTT != 0 {
		t.Error("stale pong accepted")
	}

	time.Sleep(5 * time.Millisecond)
	ka.PongReceived(lastSeq.Load())
	deadline = time.Now().Add(time.Second)
	for ka.Stats().LastRTT == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ka.Stats().LastRTT < 5*time.Millisecond {
		t.Errorf("LastRTT = %v, want at least 5ms", ka.Stats().LastRTT)
	}
}

func TestKeepAliveStartStop(t *testing.T) {
	ka := NewKeepAlive(DefaultKeepAliveConfig(),
		func(seq uint32) error { return nil },
		func() {},
	)

	if ka.IsRunning() {
		t.Error("should not be running initially")
	}
	ctx := context.Background()
	ka.Start(ctx)
	ka.Start(ctx)
	if !ka.IsRunning() {
		t.Error("should be running after Start")
	}
	ka.Stop()
	if ka.IsRunning() {
		t.Error("should not be running after Stop")
	}
	ka.Stop()
}

func TestKeepAliveContextCancel(t *testing.T) {
	var pings atomic.Int32
	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    time.Second,
		MaxMissedPongs: 100,
	},
		func(seq uint32) error {
			pings.Add(1)
			return nil
		},
		func() {},
	)

	ctx, cancel := context.WithCancel(context.Background())
	ka.Start(ctx)
	time.Sleep(35 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	before := pings.Load()
	time.Sleep(40 * time.Millisecond)

	if after := pings.Load(); after > before {
		t.Errorf("pings continued after cancel: before=%d, after=%d", before, after)
	}
}
