package jobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderd/pkg/types"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe("job-1")
	ch2, cancel2 := b.Subscribe("job-1")
	chOther, cancelOther := b.Subscribe("job-2")
	defer cancel1()
	defer cancel2()
	defer cancelOther()

	b.Publish(types.ProgressEvent{JobID: "job-1", Step: "x"})

	assert.Equal(t, "x", (<-ch1).Step)
	assert.Equal(t, "x", (<-ch2).Step)
	select {
	case ev := <-chOther:
		t.Fatalf("cross-job delivery: %+v", ev)
	default:
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	for i := 0; i <= subscriberBuffer+5; i++ {
		p := i
		b.Publish(types.ProgressEvent{JobID: "job-1", Progress: &p})
	}

	// The buffer is full; order within the retained prefix is preserved.
	for i := 0; i < subscriberBuffer; i++ {
		ev := <-ch
		require.NotNil(t, ev.Progress)
		assert.Equal(t, i, *ev.Progress)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected overflow to be dropped, got %+v", ev)
	default:
	}
}

func TestBrokerCancelIdempotent(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("job-1")
	cancel()
	cancel()

	// Publishing after cancel must not panic or deliver.
	b.Publish(types.ProgressEvent{JobID: "job-1"})
	_, open := <-ch
	assert.False(t, open)
}
