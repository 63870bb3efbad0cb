package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 19, 30, 0, 0, time.UTC)

func TestVirtualRunsCallbacksInOrder(t *testing.T) {
	v := NewVirtual(epoch)
	var order []string
	v.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	v.AfterFunc(time.Second, func() { order = append(order, "a") })
	v.AfterFunc(time.Second, func() { order = append(order, "b") })

	v.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, epoch.Add(2*time.Second), v.Now())

	v.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, epoch.Add(7*time.Second), v.Now())
}

func TestVirtualStop(t *testing.T) {
	v := NewVirtual(epoch)
	fired := false
	timer := v.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	v.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, v.Pending())
}

func TestVirtualCallbacksMaySchedule(t *testing.T) {
	v := NewVirtual(epoch)
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		if ticks < 5 {
			v.AfterFunc(200*time.Millisecond, tick)
		}
	}
	v.AfterFunc(200*time.Millisecond, tick)
	ran := v.RunUntilIdle(100)
	assert.Equal(t, 5, ran)
	assert.Equal(t, 5, ticks)
	assert.Equal(t, epoch.Add(time.Second), v.Now())
}

func TestVirtualStepReportsEmpty(t *testing.T) {
	v := NewVirtual(epoch)
	assert.False(t, v.Step())
	_, ok := v.Next()
	assert.False(t, ok)
}

func TestScaledRunsFaster(t *testing.T) {
	s := NewScaled(1000)
	start := s.Now()
	done := make(chan struct{})
	s.AfterFunc(10*time.Second, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scaled timer did not fire")
	}
	assert.GreaterOrEqual(t, s.Now().Sub(start), 10*time.Second)
}

func TestScaledFloorsFactor(t *testing.T) {
	assert.Equal(t, 1.0, NewScaled(0.5).Factor())
}
