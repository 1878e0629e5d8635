package pfs

import (
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestRunDecryptPoolAllSucceed(t *testing.T) {
	logger := zap.NewNop()
	var ran atomic.Int32
	tasks := make([]decryptTask, 6)
	for i := range tasks {
		tasks[i] = func() error {
			ran.Add(1)
			return nil
		}
	}
	if err := runDecryptPool(tasks, 3, logger); err != nil {
		t.Fatalf("runDecryptPool: %v", err)
	}
	if ran.Load() != int32(len(tasks)) {
		t.Errorf("expected all %d tasks to run, ran %d", len(tasks), ran.Load())
	}
}

func TestRunDecryptPoolPropagatesError(t *testing.T) {
	logger := zap.NewNop()
	boom := errors.New("boom")
	tasks := []decryptTask{
		func() error { return nil },
		func() error { return boom },
		func() error { return nil },
		func() error { return nil },
		func() error { return nil },
	}
	err := runDecryptPool(tasks, 2, logger)
	if err == nil {
		t.Fatal("expected an error from runDecryptPool")
	}
}

func TestRunDecryptPoolFallsBackSequentiallyBelowThreshold(t *testing.T) {
	logger := zap.NewNop()
	var order []int
	tasks := []decryptTask{
		func() error { order = append(order, 0); return nil },
		func() error { order = append(order, 1); return nil },
	}
	if err := runDecryptPool(tasks, 8, logger); err != nil {
		t.Fatalf("runDecryptPool: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("expected 2 tasks run sequentially, got %d", len(order))
	}
}

func TestRunTaskRecoversPanic(t *testing.T) {
	logger := zap.NewNop()
	err := runTask(func() error {
		panic("boom")
	}, logger)
	if !IsAborted(err) {
		t.Errorf("expected Aborted after recovered panic, got %v", err)
	}
}
