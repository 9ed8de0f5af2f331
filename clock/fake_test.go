package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_Now(t *testing.T) {
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	c.Advance(5 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("Now() after Advance = %v", got)
	}
}

func TestFakeClock_AfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := false
	c.AfterFunc(time.Second, func() { fired = true })

	c.Advance(999 * time.Millisecond)
	if fired {
		t.Fatal("fired too early")
	}
	c.Advance(time.Millisecond)
	if !fired {
		t.Fatal("did not fire at deadline")
	}
}

func TestFakeClock_ChainedCallbacks(t *testing.T) {
	c := Fake(epoch)
	var order []time.Duration

	var arm func(n int)
	arm = func(n int) {
		if n == 0 {
			return
		}
		c.AfterFunc(10*time.Millisecond, func() {
			order = append(order, c.Now().Sub(epoch))
			arm(n - 1)
		})
	}
	arm(3)

	c.Advance(25 * time.Millisecond)
	if len(order) != 2 {
		t.Fatalf("fired %d callbacks within 25ms, want 2", len(order))
	}
	if order[0] != 10*time.Millisecond || order[1] != 20*time.Millisecond {
		t.Errorf("callbacks observed times %v", order)
	}

	c.Advance(5 * time.Millisecond)
	if len(order) != 3 {
		t.Fatalf("fired %d callbacks, want 3", len(order))
	}
}

func TestFakeClock_OrderByDeadlineThenRegistration(t *testing.T) {
	c := Fake(epoch)
	var got []string
	c.AfterFunc(20*time.Millisecond, func() { got = append(got, "late") })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, "a") })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, "b") })

	c.Advance(time.Second)

	want := []string{"a", "b", "late"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFakeClock_Stop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if c.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", c.PendingCount())
	}
	if !timer.Stop() {
		t.Fatal("Stop() should report an active timer")
	}
	if timer.Stop() {
		t.Fatal("second Stop() should return false")
	}

	c.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0", c.PendingCount())
	}
}

func TestFakeClock_After(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire")
	}
}

func TestFakeClock_ZeroDurationRunsInline(t *testing.T) {
	c := Fake(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("zero-duration AfterFunc should run immediately")
	}
}

func TestRealClock_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real AfterFunc did not fire")
	}
}

func TestTimer_NilStop(t *testing.T) {
	var timer *Timer
	if timer.Stop() {
		t.Fatal("nil timer Stop() should be false")
	}
}
