package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/revive/internal/model"
)

func req(mac string, state model.EffectiveState) Request {
	return Request{MAC: mac, Desired: model.CompiledRuleSet{State: state}}
}

func next(t *testing.T, q *Queue) Request {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := q.Next(ctx)
	require.NoError(t, err)
	return r
}

func TestQueue_CoalescesKeepingPosition(t *testing.T) {
	q := NewQueue()
	assert.False(t, q.Enqueue(req("a", model.StateUnrestricted)))
	assert.False(t, q.Enqueue(req("b", model.StateUnrestricted)))
	assert.True(t, q.Enqueue(req("a", model.StateBedtime)))
	assert.Equal(t, 2, q.Len())

	first := next(t, q)
	assert.Equal(t, "a", first.MAC)
	assert.Equal(t, model.StateBedtime, first.Desired.State, "only the latest desired state runs")
	second := next(t, q)
	assert.Equal(t, "b", second.MAC)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_OneInFlightPerDevice(t *testing.T) {
	q := NewQueue()
	q.Enqueue(req("a", model.StateUnrestricted))
	taken := next(t, q)
	require.Equal(t, "a", taken.MAC)

	q.Enqueue(req("a", model.StateBedtime))
	q.Enqueue(req("b", model.StateUnrestricted))

	// "a" is still in flight, so "b" is handed out first.
	assert.Equal(t, "b", next(t, q).MAC)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	q.Done("a")
	again := next(t, q)
	assert.Equal(t, "a", again.MAC)
	assert.Equal(t, model.StateBedtime, again.Desired.State)
}

func TestQueue_NextWakesOnEnqueue(t *testing.T) {
	q := NewQueue()
	got := make(chan Request, 1)
	go func() {
		r, err := q.Next(context.Background())
		if err == nil {
			got <- r
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(req("a", model.StateSocialBlocked))

	select {
	case r := <-got:
		assert.Equal(t, "a", r.MAC)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestQueue_MultipleWaitersAllServed(t *testing.T) {
	q := NewQueue()
	got := make(chan string, 3)
	for i := 0; i < 3; i++ {
		go func() {
			r, err := q.Next(context.Background())
			if err == nil {
				got <- r.MAC
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(req("a", model.StateUnrestricted))
	q.Enqueue(req("b", model.StateUnrestricted))
	q.Enqueue(req("c", model.StateUnrestricted))

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case mac := <-got:
			seen[mac] = true
		case <-time.After(time.Second):
			t.Fatalf("only %d of 3 requests handed out", i)
		}
	}
	assert.Len(t, seen, 3)
}

func TestQueue_Pending(t *testing.T) {
	q := NewQueue()
	_, ok := q.Pending("a")
	assert.False(t, ok)
	q.Enqueue(req("a", model.StateBedtime))
	r, ok := q.Pending("a")
	require.True(t, ok)
	assert.Equal(t, model.StateBedtime, r.Desired.State)
}
