package udmx

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/udmx/pkg"
)

// recorder is a Sender that logs every request.
type recorder struct {
	mutex sync.Mutex
	calls []string
	err   error
}

func (r *recorder) SetSingleChannel(ctx context.Context, channel, value uint16) (Reply, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("single %d=%d", channel, value))
	return Reply{}, r.err
}

func (r *recorder) SetChannelRange(ctx context.Context, start uint16, values []byte) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("range %d %v", start, values))
	return len(values), r.err
}

func (r *recorder) take() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	calls := r.calls
	r.calls = nil
	return calls
}

// manualTimer captures the flush so tests fire it by hand.
type manualTimer struct {
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	m.stopped = true
	return true
}

func newTestLimiter(t *testing.T) (*Limiter, *recorder, *[]*manualTimer) {
	t.Helper()
	var timers []*manualTimer
	l := NewLimiter(context.Background())
	l.AfterFunc = func(d time.Duration, f func()) Timer {
		if d != l.speedLim {
			t.Errorf("AfterFunc(%v), want %v", d, l.speedLim)
		}
		m := &manualTimer{fn: f}
		timers = append(timers, m)
		return m
	}
	r := &recorder{}
	l.Open(r)
	return l, r, &timers
}

func equalCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %q, want %q", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("calls = %q, want %q", got, want)
		}
	}
}

func TestLimiter_Set(t *testing.T) {
	l, r, timers := newTestLimiter(t)

	l.SetChannel(4)
	l.Set(100)
	equalCalls(t, r.take(), []string{"single 4=100"})
	if len(*timers) != 1 {
		t.Fatalf("timers = %d, want 1", len(*timers))
	}

	// While the limit runs, changes are only tracked.
	l.Set(120)
	l.SetChannel(2)
	l.Set(7)
	equalCalls(t, r.take(), nil)

	(*timers)[0].fn()
	equalCalls(t, r.take(), []string{"range 2 [7 0 120]"})

	// The limit is off again, so the next change goes out at once.
	l.Set(8)
	equalCalls(t, r.take(), []string{"single 2=8"})
}

func TestLimiter_Unchanged(t *testing.T) {
	l, r, timers := newTestLimiter(t)
	l.Set(0)
	l.SetList([]int{0, 0, 0})
	equalCalls(t, r.take(), nil)
	if len(*timers) != 0 {
		t.Errorf("timers = %d, want 0", len(*timers))
	}
}

func TestLimiter_Clamp(t *testing.T) {
	l, r, _ := newTestLimiter(t)
	l.SetSpeedLimit(0)

	l.SetChannel(600)
	l.Set(300)
	l.SetChannel(-3)
	l.Set(-1)
	l.Set(5)
	equalCalls(t, r.take(), []string{"single 511=255", "single 0=5"})
	if got := l.Value(511); got != 255 {
		t.Errorf("Value(511) = %d, want 255", got)
	}
}

func TestLimiter_SetList(t *testing.T) {
	tests := []struct {
		name    string
		channel int
		values  []int
		want    []string
	}{
		{"span", 10, []int{1, 0, 3}, []string{"range 10 [1 0 3]"}},
		{"single change", 10, []int{0, 9, 0}, []string{"single 11=9"}},
		{"past end", 510, []int{1, 2, 3}, []string{"range 510 [1 2]"}},
		{"clamped", 0, []int{-5, 400}, []string{"single 1=255"}},
		{"no change", 0, []int{0}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, r, _ := newTestLimiter(t)
			l.SetSpeedLimit(0)
			l.SetChannel(tt.channel)
			l.SetList(tt.values)
			equalCalls(t, r.take(), tt.want)
		})
	}
}

func TestLimiter_FlushSingle(t *testing.T) {
	l, r, timers := newTestLimiter(t)
	l.SetList([]int{1, 2})
	l.SetList([]int{1, 5})
	(*timers)[0].fn()
	equalCalls(t, r.take(), []string{"range 0 [1 2]", "single 1=5"})

	// A flush with nothing tracked sends nothing.
	l.Set(3)
	(*timers)[1].fn()
	equalCalls(t, r.take(), []string{"single 0=3"})
}

func TestLimiter_FlushLastChannel(t *testing.T) {
	l, r, timers := newTestLimiter(t)
	l.SetChannel(511)
	l.Set(1)
	l.Set(2)
	(*timers)[0].fn()
	equalCalls(t, r.take(), []string{"single 511=1", "single 511=2"})
}

func TestLimiter_Status(t *testing.T) {
	var (
		mutex sync.Mutex
		got   []bool
	)
	l := NewLimiter(context.Background())
	l.SetSpeedLimit(0)
	l.OnStatus = func(connected bool) {
		mutex.Lock()
		got = append(got, connected)
		mutex.Unlock()
	}

	// Without a sender, changes are only kept in the shadow buffer.
	l.Set(10)
	if l.Value(0) != 10 {
		t.Errorf("Value(0) = %d, want 10", l.Value(0))
	}

	r := &recorder{}
	l.Open(r)
	r.err = pkg.Wrap(pkg.ErrNoDevice, "gone")
	l.Set(11)
	if l.Connected() {
		t.Error("Connected() = true after the device was lost")
	}
	l.Set(12)
	if calls := r.take(); len(calls) != 1 {
		t.Errorf("calls = %q, want one", calls)
	}

	l.Open(r)
	l.Close()

	mutex.Lock()
	defer mutex.Unlock()
	want := []bool{true, false, true, false}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("status = %v, want %v", got, want)
	}
}

func TestLimiter_CloseStopsTimer(t *testing.T) {
	l, _, timers := newTestLimiter(t)
	l.Set(1)
	l.Close()
	if !(*timers)[0].stopped {
		t.Error("pending flush not stopped")
	}
	if l.Connected() {
		t.Error("Connected() = true after Close")
	}
}

func TestLimiter_SpeedLimitChangeCancelsFlush(t *testing.T) {
	l, r, timers := newTestLimiter(t)
	l.Set(1)
	l.SetChannel(3)
	l.Set(2)
	equalCalls(t, r.take(), []string{"single 0=1"})

	l.SetSpeedLimit(20 * time.Millisecond)
	if !(*timers)[0].stopped {
		t.Error("pending flush not stopped")
	}

	l.SetChannel(5)
	l.Set(4)
	equalCalls(t, r.take(), []string{"single 5=4"})
	if len(*timers) != 2 {
		t.Fatalf("timers = %d, want 2", len(*timers))
	}

	// The cancelled timer firing late must not eat the new window.
	(*timers)[0].fn()
	equalCalls(t, r.take(), nil)
	(*timers)[1].fn()
	equalCalls(t, r.take(), []string{"single 3=2"})
}

func BenchmarkLimiter_Set(b *testing.B) {
	l := NewLimiter(context.Background())
	l.SetSpeedLimit(0)
	l.Open(&recorder{})
	for i := 0; i < b.N; i++ {
		l.Set(i & 0xFF)
	}
}
