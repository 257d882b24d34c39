package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var got []int
	c.AfterFunc(20*time.Millisecond, func() { got = append(got, 2) })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, 1) })
	c.AfterFunc(30*time.Millisecond, func() { got = append(got, 3) })

	c.Advance(25 * time.Millisecond)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("fired = %v, want [1 2]", got)
	}
	if p := c.Pending(); len(p) != 1 || p[0] != 30*time.Millisecond {
		t.Fatalf("pending = %v, want [30ms]", p)
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("first Stop should report true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if got := c.Now(); !got.Equal(time.Unix(0, 0).Add(3500 * time.Millisecond)) {
		t.Fatalf("now = %v", got)
	}
}
