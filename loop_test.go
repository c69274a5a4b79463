package strata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestLoop_ProcessRunsTasksInOrder(t *testing.T) {
	loop := NewLoop(nil)
	var got []int
	loop.Post(func() { got = append(got, 1) })
	loop.Post(func() { got = append(got, 2) })

	if loop.Pending() != 2 {
		t.Errorf("expected 2 pending tasks, got %d", loop.Pending())
	}
	if n := loop.Drain(); n != 2 {
		t.Errorf("expected 2 tasks run, got %d", n)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected [1 2], got %v", got)
	}
	if loop.Process() {
		t.Error("expected Process to report an empty queue")
	}
}

func TestLoop_MicrotasksRunAfterEachTask(t *testing.T) {
	loop := NewLoop(nil)
	var got []string
	loop.Post(func() {
		loop.Defer(func() { got = append(got, "micro") })
		got = append(got, "task-1")
	})
	loop.Post(func() { got = append(got, "task-2") })

	loop.Drain()

	want := []string{"task-1", "micro", "task-2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestLoop_FlushIsNotReentrant(t *testing.T) {
	loop := NewLoop(nil)
	var got []int
	loop.Defer(func() {
		got = append(got, 1)
		loop.Defer(func() { got = append(got, 3) })
		loop.Flush()
		got = append(got, 2)
	})

	loop.Flush()

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("expected nested microtask to run after its parent, got %v", got)
	}
}

func TestLoop_PostIsSafeAcrossGoroutines(t *testing.T) {
	loop := NewLoop(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Post(func() {})
		}()
	}
	wg.Wait()

	if n := loop.Drain(); n != 50 {
		t.Errorf("expected 50 tasks, got %d", n)
	}
}

func TestLoop_StepWaitsForPost(t *testing.T) {
	loop := NewLoop(nil)
	ran := make(chan struct{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.Post(func() { close(ran) })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !loop.Step(ctx) {
		t.Fatal("expected Step to run the posted task")
	}
	select {
	case <-ran:
	default:
		t.Error("expected task to have run")
	}
}

func TestLoop_RunEndsWithContext(t *testing.T) {
	loop := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- loop.Run(ctx) }()

	cancel()

	select {
	case err := <-errs:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestDelay_EmitsAfterDuration(t *testing.T) {
	clock := clockz.NewFakeClock()
	loop := NewLoop(clock)
	subj := NewSubject[int]()
	r := record(Delay(subj.Stream(), loop, 100*time.Millisecond))

	subj.Next(1)
	subj.Next(2)
	if len(r.values) != 0 {
		t.Fatalf("expected nothing before the delay, got %v", r.values)
	}

	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for len(r.values) < 2 && loop.Step(ctx) {
	}

	if len(r.values) != 2 || r.values[0] != 1 || r.values[1] != 2 {
		t.Errorf("expected [1 2], got %v", r.values)
	}
}

func TestDelay_CompletesAfterQueue(t *testing.T) {
	clock := clockz.NewFakeClock()
	loop := NewLoop(clock)
	subj := NewSubject[int]()
	r := record(Delay(subj.Stream(), loop, time.Second))

	subj.Next(1)
	subj.Complete()
	if r.completed {
		t.Fatal("expected completion to wait for the pending value")
	}

	clock.Advance(time.Second)
	clock.BlockUntilReady()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	loop.Step(ctx)

	if len(r.values) != 1 || !r.completed {
		t.Errorf("expected value then completion, got %v completed=%v", r.values, r.completed)
	}
}

func TestDelay_StopCancelsPending(t *testing.T) {
	clock := clockz.NewFakeClock()
	loop := NewLoop(clock)
	subj := NewSubject[int]()
	r := record(Delay(subj.Stream(), loop, time.Second))

	subj.Next(1)
	r.sub.Unsubscribe()

	clock.Advance(2 * time.Second)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)
	loop.Drain()

	if len(r.values) != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %v", r.values)
	}
}
