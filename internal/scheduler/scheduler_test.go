package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/model"
)

func mustDequeue(t *testing.T, s *Scheduler) Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, ok := s.Dequeue(ctx)
	require.True(t, ok)
	return task
}

func TestPriorityQueueDrainsFirst(t *testing.T) {
	s := New(Options{})
	rootA := model.RootID{1}

	s.SubmitFair(model.CoalesceTask{RootID: rootA, Path: "bulk.go"})
	s.SubmitPriority(model.CoalesceTask{RootID: rootA, Path: "urgent.go"})

	task := mustDequeue(t, s)
	assert.Equal(t, "urgent.go", task.Path)
	assert.True(t, task.Priority)
}

func TestFairQueueRoundRobinsAcrossRoots(t *testing.T) {
	s := New(Options{})
	rootA := model.RootID{1}
	rootB := model.RootID{2}

	s.SubmitFair(model.CoalesceTask{RootID: rootA, Path: "a1.go"})
	s.SubmitFair(model.CoalesceTask{RootID: rootA, Path: "a2.go"})
	s.SubmitFair(model.CoalesceTask{RootID: rootB, Path: "b1.go"})

	first := mustDequeue(t, s)
	second := mustDequeue(t, s)
	third := mustDequeue(t, s)

	assert.Equal(t, rootA, first.RootID)
	assert.Equal(t, rootB, second.RootID, "round robin should visit root B before returning to root A's second file")
	assert.Equal(t, rootA, third.RootID)
	assert.Equal(t, "a2.go", third.Path)
}

func TestFIFOPreservedWithinPriorityClass(t *testing.T) {
	s := New(Options{})
	root := model.RootID{1}
	s.SubmitPriority(model.CoalesceTask{RootID: root, Path: "p1.go"})
	s.SubmitPriority(model.CoalesceTask{RootID: root, Path: "p2.go"})

	first := mustDequeue(t, s)
	second := mustDequeue(t, s)
	assert.Equal(t, "p1.go", first.Path)
	assert.Equal(t, "p2.go", second.Path)
}

func TestDequeueBlocksUntilContextDone(t *testing.T) {
	s := New(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := s.Dequeue(ctx)
	assert.False(t, ok)
}

func TestDepthCountsBothQueues(t *testing.T) {
	s := New(Options{})
	root := model.RootID{1}
	s.SubmitFair(model.CoalesceTask{RootID: root, Path: "a.go"})
	s.SubmitPriority(model.CoalesceTask{RootID: root, Path: "b.go"})
	assert.Equal(t, 2, s.Depth())
}

func TestReadPressureInsertsDelay(t *testing.T) {
	s := New(Options{PenaltyWait: 30 * time.Millisecond})
	root := model.RootID{1}
	s.SubmitFair(model.CoalesceTask{RootID: root, Path: "a.go"})
	s.SignalReadPressure()

	start := time.Now()
	mustDequeue(t, s)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestAcquireReleaseBoundsConcurrency(t *testing.T) {
	s := New(Options{MaxConcurrency: 1})
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		_ = s.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while first holds the only slot")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should succeed after release")
	}
}
