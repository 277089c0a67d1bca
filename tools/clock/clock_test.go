package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	stopped := c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	c.Advance(2 * time.Second)
	assert.Equal(t, []int{1}, order)
	assert.Equal(t, start.Add(2*time.Second), c.Now())

	c.Advance(time.Second)
	assert.Equal(t, []int{1, 3}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_RescheduleInsideWindow(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	n := 0
	var tick func()
	tick = func() {
		n++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(5 * time.Second)
	assert.Equal(t, 5, n)
	assert.Equal(t, 1, c.Pending())
}

func TestReal(t *testing.T) {
	c := Real()
	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)
}
