package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTimersFireOnce(t *testing.T) {
	assert := assert.New(t)
	s := NewTimers()
	defer s.Stop()

	var fired atomic.Int32
	done := make(chan struct{})
	s.Schedule("a", 10*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	assert.Equal(int32(1), fired.Load())
	assert.Equal(0, s.Len())
	assert.False(s.Cancel("a"))
}

func TestTimersCancel(t *testing.T) {
	assert := assert.New(t)
	s := NewTimers()

	var fired atomic.Int32
	s.Schedule("a", 20*time.Millisecond, func() { fired.Add(1) })
	assert.True(s.Cancel("a"))
	assert.False(s.Cancel("a"))

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	assert.Equal(int32(0), fired.Load())
}

func TestTimersReplace(t *testing.T) {
	assert := assert.New(t)
	s := NewTimers()

	var first, second atomic.Int32
	done := make(chan struct{})
	s.Schedule("k", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("k", 30*time.Millisecond, func() {
		second.Add(1)
		close(done)
	})
	assert.Equal(1, s.Len())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replacement did not fire")
	}
	s.Stop()
	assert.Equal(int32(0), first.Load())
	assert.Equal(int32(1), second.Load())
}

func TestTimersStopCancelsAll(t *testing.T) {
	assert := assert.New(t)
	s := NewTimers()

	var fired atomic.Int32
	for _, k := range []string{"a", "b", "c"} {
		s.Schedule(k, time.Hour, func() { fired.Add(1) })
	}
	assert.Equal(3, s.Len())
	s.Stop()
	assert.Equal(0, s.Len())

	s.Schedule("late", time.Millisecond, func() { fired.Add(1) })
	assert.Equal(0, s.Len())
	assert.Equal(int32(0), fired.Load())
}

func TestTimersPanicIsRecovered(t *testing.T) {
	s := NewTimers()
	done := make(chan struct{})
	s.Schedule("boom", time.Millisecond, func() {
		defer close(done)
		panic("boom")
	})
	<-done
	s.Stop()
}

func TestManualAdvance(t *testing.T) {
	assert := assert.New(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	m.Schedule("b", 2*time.Minute, func() { order = append(order, "b") })
	m.Schedule("a", time.Minute, func() {
		order = append(order, "a")
		m.Schedule("c", 0, func() { order = append(order, "c") })
	})
	m.Schedule("d", time.Hour, func() { order = append(order, "d") })

	m.Advance(30 * time.Second)
	assert.Empty(order)

	m.Advance(2 * time.Minute)
	assert.Equal([]string{"a", "b", "c"}, order)
	assert.True(m.Pending("d"))
	assert.Equal(start.Add(150*time.Second), m.Now())

	assert.True(m.Cancel("d"))
	m.Advance(2 * time.Hour)
	assert.Equal([]string{"a", "b", "c"}, order)
	assert.Equal(0, m.Len())
}
