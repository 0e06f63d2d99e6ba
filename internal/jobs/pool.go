package jobs

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultPollInterval mirrors the teacher's defaultExpirerInterval naming,
// scaled down for a job poller rather than an hourly sweep.
const defaultPollInterval = 500 * time.Millisecond

// WorkerPool runs N pollers against a domain.JobQueue, each claiming and
// executing jobs until Stop is called. Grounded on the teacher's
// ExpirerService Start/Stop/stopCh/sync.WaitGroup shape, fanned out to N
// goroutines via golang.org/x/sync/errgroup and given jittered poll
// backoff in the style of codeready-toolchain-tarsy's pkg/queue/worker.go.
type WorkerPool struct {
	queue    domain.JobQueue
	executor *Executor
	logger   *zap.Logger

	pollInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewWorkerPool(queue domain.JobQueue, executor *Executor, pollInterval time.Duration, logger *zap.Logger) *WorkerPool {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		queue:        queue,
		executor:     executor,
		logger:       logger,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start launches n poller goroutines. Each one polls Claim, executes any
// claimed job, and reports completion/failure back to the queue before
// looping. Errors from individual job executions never stop the pool;
// only the per-job retry/dead-letter policy reacts to them.
func (p *WorkerPool) Start(n int) {
	if n <= 0 {
		n = 1
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		workerID := workerName(i)
		go func() {
			defer p.wg.Done()
			g, ctx := errgroup.WithContext(context.Background())
			g.Go(func() error {
				p.run(ctx, workerID)
				return nil
			})
			_ = g.Wait()
		}()
	}
}

func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, workerID string) {
	p.logger.Info("job worker started", zap.String("worker_id", workerID))
	for {
		select {
		case <-p.stopCh:
			p.logger.Info("job worker stopped", zap.String("worker_id", workerID))
			return
		default:
		}

		if p.processNext(ctx, workerID) {
			continue
		}
		p.sleep(p.jitteredInterval())
	}
}

// processNext claims and executes at most one job. It returns true if a
// job was claimed (regardless of outcome), so the caller can poll again
// immediately instead of sleeping.
func (p *WorkerPool) processNext(ctx context.Context, workerID string) bool {
	job, err := p.queue.Claim(ctx, workerID, time.Now().UTC())
	if err != nil {
		p.logger.Error("claim failed", zap.String("worker_id", workerID), zap.Error(err))
		return false
	}
	if job == nil {
		return false
	}

	result, execErr := p.executor.Execute(ctx, job)
	now := time.Now().UTC()
	if execErr != nil {
		backoff := time.Duration(job.Attempts) * time.Second
		if err := p.queue.Fail(ctx, job.JobID, execErr.Error(), now.Add(backoff), now); err != nil {
			p.logger.Error("failed to record job failure", zap.String("job_id", job.JobID), zap.Error(err))
		}
		p.logger.Warn("job execution failed", zap.String("job_id", job.JobID), zap.String("kind", string(job.Kind)), zap.Error(execErr))
		return true
	}

	if err := p.queue.Complete(ctx, job.JobID, result, now); err != nil {
		p.logger.Error("failed to record job completion", zap.String("job_id", job.JobID), zap.Error(err))
	}
	return true
}

func (p *WorkerPool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

// jitteredInterval returns the base poll interval plus up to 20% jitter,
// in the style of codeready-toolchain-tarsy's Worker.pollInterval.
func (p *WorkerPool) jitteredInterval() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(p.pollInterval) / 5))
	return p.pollInterval + jitter
}

func workerName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if i < len(letters) {
		return "worker-" + string(letters[i])
	}
	return "worker-n"
}
