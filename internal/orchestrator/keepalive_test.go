package orchestrator

import (
	"testing"
	"time"
)

func TestKeepAlive_FiresAfterIdleWindow(t *testing.T) {
	t.Parallel()

	k := NewKeepAlive(20*time.Millisecond, nil)
	defer k.Stop()
	k.Touch()

	select {
	case <-k.C():
	case <-time.After(time.Second):
		t.Fatal("keep-alive never fired")
	}
}

func TestKeepAlive_SkipsWhenBusy(t *testing.T) {
	t.Parallel()

	k := NewKeepAlive(20*time.Millisecond, func() bool { return true })
	defer k.Stop()
	k.Touch()

	select {
	case <-k.C():
		t.Fatal("keep-alive fired while busy")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestKeepAlive_TouchRearms(t *testing.T) {
	t.Parallel()

	k := NewKeepAlive(300*time.Millisecond, nil)
	defer k.Stop()

	k.Touch()
	time.Sleep(150 * time.Millisecond)
	k.Touch()

	// The original deadline has passed; the rearmed one has not.
	select {
	case <-k.C():
		t.Fatal("keep-alive fired on the stale deadline")
	case <-time.After(230 * time.Millisecond):
	}

	select {
	case <-k.C():
	case <-time.After(time.Second):
		t.Fatal("rearmed keep-alive never fired")
	}
}

func TestKeepAlive_StopPreventsFiring(t *testing.T) {
	t.Parallel()

	k := NewKeepAlive(10*time.Millisecond, nil)
	k.Touch()
	k.Stop()
	k.Stop() // idempotent

	select {
	case <-k.C():
		t.Fatal("keep-alive fired after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestKeepAlive_TouchAfterStopIsNoop(t *testing.T) {
	t.Parallel()

	k := NewKeepAlive(10*time.Millisecond, nil)
	k.Stop()
	k.Touch()

	select {
	case <-k.C():
		t.Fatal("keep-alive armed after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}
