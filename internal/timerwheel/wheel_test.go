package timerwheel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleFiresOnce(t *testing.T) {
	w := New(false)
	defer w.Close()

	var n int32
	w.Schedule("t1", 10*time.Millisecond, false, func() { atomic.AddInt32(&n, 1) })

	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&n), "one-shot timer must not fire twice")
}

func TestSchedulePeriodic(t *testing.T) {
	w := New(false)
	defer w.Close()

	var n int32
	w.Schedule("periodic", 10*time.Millisecond, true, func() { atomic.AddInt32(&n, 1) })

	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 3 }, time.Second, time.Millisecond)
}

func TestCancelPreventsFire(t *testing.T) {
	w := New(false)
	defer w.Close()

	var n int32
	h := w.Schedule("cancelme", 20*time.Millisecond, false, func() { atomic.AddInt32(&n, 1) })
	w.Cancel(h)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&n))
}

func TestRescheduleSameNameReplaces(t *testing.T) {
	w := New(false)
	defer w.Close()

	var first, second int32
	w.Schedule("dup", 50*time.Millisecond, false, func() { atomic.AddInt32(&first, 1) })
	w.Schedule("dup", 10*time.Millisecond, false, func() { atomic.AddInt32(&second, 1) })

	require.Eventually(t, func() bool { return atomic.LoadInt32(&second) == 1 }, time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&first), "replaced timer must never fire")
}

func TestActiveReflectsState(t *testing.T) {
	w := New(false)
	defer w.Close()

	w.Schedule("active", 100*time.Millisecond, false, func() {})
	require.True(t, w.Active("active"))
	w.CancelName("active")
	require.False(t, w.Active("active"))
}

func TestJitterStaysWithinBounds(t *testing.T) {
	w := New(true)
	defer w.Close()

	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		j := w.jittered(d)
		require.GreaterOrEqual(t, j, 75*time.Millisecond)
		require.LessOrEqual(t, j, 125*time.Millisecond)
	}
}
