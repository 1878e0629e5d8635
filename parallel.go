package pfs

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// MinBindingsForParallel is the threshold below which runDecryptPool falls
// back to sequential processing, mirroring parallelDecryptChunks' fallback
// for small workloads.
const MinBindingsForParallel = 4

// decryptTask is one unit of work for the decrypt pool: decrypting a
// single bound file end to end.
type decryptTask func() error

// runDecryptPool runs every task using a bounded worker pool, grounded on
// the job-channel + error-channel + panic-recovery pattern of
// parallelDecryptChunks, generalized from per-chunk-of-one-file to
// per-integrity-table-of-a-whole-image. An atomic abort flag stops
// queued-but-unstarted work as soon as any worker fails, and the shared
// *zap.Logger (backed by a mutex-locked sink) realizes the single log-sink
// requirement.
func runDecryptPool(tasks []decryptTask, workers int, logger *zap.Logger) error {
	if workers <= 0 || len(tasks) < MinBindingsForParallel {
		workers = 1
	}

	type result struct {
		idx int
		err error
	}

	jobCh := make(chan int, len(tasks))
	resultCh := make(chan result, len(tasks))
	var aborted atomic.Bool

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobCh {
				if aborted.Load() {
					resultCh <- result{idx: idx, err: &Aborted{Reason: "prior worker failure"}}
					continue
				}
				resultCh <- result{idx: idx, err: runTask(tasks[idx], logger)}
			}
		}()
	}

	for i := range tasks {
		jobCh <- i
	}
	close(jobCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var firstErr error
	for res := range resultCh {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			aborted.Store(true)
			logger.Warn("decrypt task failed", zap.Int("task", res.idx), zap.Error(res.err))
		}
	}
	return firstErr
}

func runTask(task decryptTask, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in decrypt worker, recovered", zap.Any("recover", r))
			err = &Aborted{Reason: "worker panic"}
		}
	}()
	return task()
}
