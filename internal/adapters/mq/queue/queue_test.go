package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/jumplab/internal/domain/model"
)

func sampleAt(t float64) model.ForceSample {
	return model.ForceSample{Timestamp: t, LeftFz: 100, RightFz: 100}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Push(ctx, sampleAt(0.001)) {
		t.Error("expected push to succeed")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	ch := q.Dequeue(ctx)
	e := <-ch
	if e.Kind != KindSample || e.Sample.Timestamp != 0.001 {
		t.Errorf("unexpected envelope %+v", e)
	}
}

func TestInMemoryQueue_DropOldestUnderBackpressure(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(3))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if !q.Push(ctx, sampleAt(float64(i))) {
			t.Fatalf("push %d failed", i)
		}
	}

	if got := q.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped samples, got %d", got)
	}
	if l := q.Len(); l != 3 {
		t.Fatalf("expected length 3, got %d", l)
	}

	// Oldest survivors are 3, 4, 5: the two oldest were evicted.
	ch := q.Dequeue(ctx)
	for want := 3.0; want <= 5.0; want++ {
		e := <-ch
		if e.Sample.Timestamp != want {
			t.Errorf("expected sample %v, got %v", want, e.Sample.Timestamp)
		}
	}
}

func TestInMemoryQueue_ControlEnvelopesSurviveEviction(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(3))
	ctx := context.Background()

	q.Push(ctx, sampleAt(1))
	q.PushCancel(ctx)
	q.Push(ctx, sampleAt(2))
	// Queue is full; these evict samples 1 and 2, never the cancel.
	q.Push(ctx, sampleAt(3))
	q.Push(ctx, sampleAt(4))

	ch := q.Dequeue(ctx)
	first := <-ch
	if first.Kind != KindCancel {
		t.Fatalf("expected cancel to survive at its position, got %+v", first)
	}
	second := <-ch
	if second.Kind != KindSample || second.Sample.Timestamp != 3 {
		t.Fatalf("expected sample 3 after cancel, got %+v", second)
	}
}

func TestInMemoryQueue_CancelOrdering(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(16))
	ctx := context.Background()

	q.Push(ctx, sampleAt(1))
	q.Push(ctx, sampleAt(2))
	q.PushCancel(ctx)
	q.Push(ctx, sampleAt(3))

	ch := q.Dequeue(ctx)
	var order []Kind
	for i := 0; i < 4; i++ {
		order = append(order, (<-ch).Kind)
	}
	want := []Kind{KindSample, KindSample, KindCancel, KindSample}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("envelope %d: expected kind %v, got %v", i, want[i], order[i])
		}
	}
}

func TestInMemoryQueue_EndOfStreamCarriesError(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()
	sentinel := errors.New("link dropped")

	q.Push(ctx, sampleAt(1))
	q.PushEnd(ctx, sentinel)

	ch := q.Dequeue(ctx)
	<-ch
	end := <-ch
	if end.Kind != KindEnd || !errors.Is(end.Err, sentinel) {
		t.Fatalf("expected end envelope with sentinel error, got %+v", end)
	}
}

func TestInMemoryQueue_CloseDrainsThenCloses(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	q.Push(ctx, sampleAt(1))
	if err := q.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !q.IsClosed() {
		t.Fatal("expected closed queue")
	}
	if q.Push(ctx, sampleAt(2)) {
		t.Fatal("push after close should fail")
	}

	ch := q.Dequeue(ctx)
	if e := <-ch; e.Sample.Timestamp != 1 {
		t.Fatalf("expected queued sample to drain, got %+v", e)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after drain")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue channel did not close")
	}
}

func TestInMemoryQueue_DequeueHonorsContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx, cancel := context.WithCancel(context.Background())

	ch := q.Dequeue(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue channel did not close on context cancel")
	}
}
