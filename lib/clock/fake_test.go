// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestFakeNowFrozen(t *testing.T) {
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(90 * time.Second)) {
		t.Fatalf("Now() after Advance = %v, want %v", got, epoch.Add(90*time.Second))
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(10 * time.Minute)

	c.Advance(9 * time.Minute)
	select {
	case fireTime := <-ch:
		t.Fatalf("fired early at %v", fireTime)
	default:
	}

	c.Advance(time.Minute)
	select {
	case fireTime := <-ch:
		if want := epoch.Add(10 * time.Minute); !fireTime.Equal(want) {
			t.Fatalf("fire time = %v, want %v", fireTime, want)
		}
	default:
		t.Fatal("waiter did not fire after deadline passed")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not deliver immediately")
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(time.Hour)

	if !timer.Stop() {
		t.Fatal("Stop() = false on an active timer")
	}
	if timer.Stop() {
		t.Fatal("second Stop() = true, want false")
	}

	c.Advance(2 * time.Hour)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeTimerReset(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(time.Minute)

	c.Advance(2 * time.Minute)
	<-timer.C

	// Re-arm after firing: Reset reports inactive but the timer works.
	if timer.Reset(time.Minute) {
		t.Fatal("Reset on fired timer = true, want false")
	}
	c.Advance(time.Minute)
	select {
	case <-timer.C:
	default:
		t.Fatal("re-armed timer did not fire")
	}
}

func TestFakeAdvanceToFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	late := c.After(30 * time.Minute)
	early := c.After(10 * time.Minute)

	c.AdvanceTo(epoch.Add(time.Hour))

	earlyFire := <-early
	lateFire := <-late
	if !earlyFire.Equal(epoch.Add(time.Hour)) || !lateFire.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("fire times = %v, %v, want both %v", earlyFire, lateFire, epoch.Add(time.Hour))
	}
	if got := c.Now(); !got.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("Now() = %v, want %v", got, epoch.Add(time.Hour))
	}
}

func TestFakeWaitForWaiters(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})

	go func() {
		<-c.After(5 * time.Second)
		close(done)
	}()

	c.WaitForWaiters(1)
	c.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine never observed the advance")
	}
}
