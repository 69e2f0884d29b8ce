package taskscheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleRunsTaskAtDeadline(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	var ran atomic.Bool
	done := make(chan struct{})
	s.Schedule(TaskFunc(func() {
		ran.Store(true)
		close(done)
	}), time.Now().Add(10*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run within timeout")
	}
	if !ran.Load() {
		t.Fatal("task did not run")
	}
}

func TestCancelPreventsExecution(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	var ran atomic.Bool
	h := s.Schedule(TaskFunc(func() { ran.Store(true) }), time.Now().Add(200*time.Millisecond))
	s.Cancel(h)

	time.Sleep(400 * time.Millisecond)
	if ran.Load() {
		t.Fatal("cancelled task should not have run")
	}
}

func TestCancelUnknownHandleIsNoOp(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)
	s.Cancel(Handle(9999)) // must not panic
}

func TestTasksRunInDeadlineOrder(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)

	now := time.Now()
	s.Schedule(TaskFunc(func() {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		wg.Done()
	}), now.Add(60*time.Millisecond))
	s.Schedule(TaskFunc(func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		wg.Done()
	}), now.Add(10*time.Millisecond))
	s.Schedule(TaskFunc(func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		wg.Done()
	}), now.Add(30*time.Millisecond))

	waitWithTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestPanickingTaskDoesNotKillTheScheduler(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	s.Schedule(TaskFunc(func() { panic("boom") }), time.Now().Add(5*time.Millisecond))

	var ran atomic.Bool
	done := make(chan struct{})
	s.Schedule(TaskFunc(func() {
		ran.Store(true)
		close(done)
	}), time.Now().Add(20*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler stopped processing tasks after a panic")
	}
	if !ran.Load() {
		t.Fatal("task scheduled after a panicking task did not run")
	}
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
