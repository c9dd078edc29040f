package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleOnceFires(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Shutdown()

	var fired int32
	require.NoError(t, s.ScheduleOnce("job", 20*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 10*time.Millisecond)
}

func TestCancelPreventsFiring(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Shutdown()

	var fired int32
	require.NoError(t, s.ScheduleOnce("job", 50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	}))
	s.Cancel("job")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestCancelUnknownIDIsNoop(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Shutdown()

	assert.NotPanics(t, func() { s.Cancel("does-not-exist") })
}

func TestScheduleIntervalFiresRepeatedly(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Shutdown()

	var fired int32
	require.NoError(t, s.ScheduleInterval("tick", 20*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) >= 3 }, time.Second, 10*time.Millisecond)
}

func TestRescheduleUnderSameIDReplacesPrevious(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Shutdown()

	var firstFired, secondFired int32
	require.NoError(t, s.ScheduleOnce("job", 200*time.Millisecond, func() {
		atomic.AddInt32(&firstFired, 1)
	}))
	require.NoError(t, s.ScheduleOnce("job", 20*time.Millisecond, func() {
		atomic.AddInt32(&secondFired, 1)
	}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&secondFired) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&firstFired), "replaced job must not fire")
}
