package crypto

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSignerMonitorNormalToReadOnly(t *testing.T) {
	check := func() error { return errors.New("signer unavailable") }

	cfg := SignerMonitorConfig{
		HealthInterval:  1 * time.Millisecond,
		FailThreshold:   3,
		FailoverTimeout: 0,
	}

	mon := NewSignerMonitor(cfg, check, nil)
	if mon.State() != SignerStateNormal {
		t.Fatal("expected initial state NORMAL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go mon.Run(ctx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if mon.State() == SignerStateReadOnly {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if mon.State() != SignerStateReadOnly {
		t.Fatalf("expected READ_ONLY after %d failures, got %s", cfg.FailThreshold, mon.State())
	}
	if mon.CanSign() {
		t.Error("CanSign must be false in READ_ONLY state")
	}
}

func TestSignerMonitorRecovery(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	check := func() error {
		if fail.Load() {
			return errors.New("signer unavailable")
		}
		return nil
	}

	cfg := SignerMonitorConfig{
		HealthInterval:  2 * time.Millisecond,
		FailThreshold:   3,
		FailoverTimeout: 0,
	}

	mon := NewSignerMonitor(cfg, check, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go mon.Run(ctx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if mon.State() == SignerStateReadOnly {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if mon.State() != SignerStateReadOnly {
		t.Fatal("did not reach READ_ONLY")
	}

	fail.Store(false)

	deadline = time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if mon.State() == SignerStateNormal {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if mon.State() != SignerStateNormal {
		t.Fatalf("expected recovery to NORMAL, got %s", mon.State())
	}
	if !mon.CanSign() {
		t.Error("CanSign must be true in NORMAL state")
	}
}

func TestSignerMonitorFailoverTimeout(t *testing.T) {
	failedCalled := make(chan struct{}, 1)

	check := func() error { return errors.New("signer unavailable") }
	onFailed := func() { failedCalled <- struct{}{} }

	cfg := SignerMonitorConfig{
		HealthInterval:  2 * time.Millisecond,
		FailThreshold:   2,
		FailoverTimeout: 20 * time.Millisecond,
	}

	mon := NewSignerMonitor(cfg, check, onFailed)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go mon.Run(ctx)

	select {
	case <-failedCalled:
	case <-time.After(1 * time.Second):
		t.Fatal("onFailed was not called within timeout")
	}

	if mon.State() != SignerStateFailed {
		t.Fatalf("expected FAILED state, got %s", mon.State())
	}
}

func TestSignerMonitorCanSign(t *testing.T) {
	mon := &SignerMonitor{}
	mon.state.Store(int32(SignerStateNormal))
	if !mon.CanSign() {
		t.Error("NORMAL: CanSign must be true")
	}
	mon.state.Store(int32(SignerStateReadOnly))
	if mon.CanSign() {
		t.Error("READ_ONLY: CanSign must be false")
	}
	mon.state.Store(int32(SignerStateFailed))
	if mon.CanSign() {
		t.Error("FAILED: CanSign must be false")
	}
}
