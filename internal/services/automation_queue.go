package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"locker-backend/internal/metrics"
	"locker-backend/internal/models"
)

var (
	// ErrQueueFull the locker's lane has no room; the deposit stays STARTED
	ErrQueueFull = errors.New("automation queue is full for locker")
	// ErrQueueStopped the queue no longer accepts work
	ErrQueueStopped = errors.New("automation queue is stopped")
)

// Dispatcher decides where a claimed deposit's automations run
type Dispatcher interface {
	Dispatch(ctx context.Context, deposit *models.TokenTransfer, run func(ctx context.Context)) error
}

// InlineDispatcher runs automations in the caller's goroutine
type InlineDispatcher struct{}

// Dispatch runs immediately and blocks until all automations were attempted
func (InlineDispatcher) Dispatch(ctx context.Context, _ *models.TokenTransfer, run func(ctx context.Context)) error {
	run(ctx)
	return nil
}

type automationJob struct {
	deposit *models.TokenTransfer
	run     func(ctx context.Context)
}

// AutomationQueue one FIFO lane per locker account and chain. A lane is drained by a
// single goroutine, so submissions signed by the same locker never overlap, even across
// deposits. Consecutive jobs of a lane are spaced by jobGap, measured from the end of
// the previous job. Lanes exit after being idle and are recreated on demand.
type AutomationQueue struct {
	ctx       context.Context
	cancel    context.CancelFunc
	laneSize  int
	idleAfter time.Duration
	jobGap    time.Duration
	wait      func(ctx context.Context, d time.Duration) error
	logger    *logrus.Logger

	mu      sync.Mutex
	lanes   map[string]chan automationJob
	stopped bool
	wg      sync.WaitGroup
}

// NewAutomationQueue creates the queue; work runs on a context detached from the
// request that dispatched it and is cancelled by Stop
func NewAutomationQueue(laneSize int, idleAfter, jobGap time.Duration, logger *logrus.Logger) *AutomationQueue {
	if laneSize <= 0 {
		laneSize = 64
	}
	if idleAfter <= 0 {
		idleAfter = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AutomationQueue{
		ctx:       ctx,
		cancel:    cancel,
		laneSize:  laneSize,
		idleAfter: idleAfter,
		jobGap:    jobGap,
		wait:      sleepContext,
		logger:    logger,
		lanes:     make(map[string]chan automationJob),
	}
}

func laneKey(lockerID string, chainID int64) string {
	return fmt.Sprintf("%s:%d", lockerID, chainID)
}

// Dispatch enqueues without blocking; returns ErrQueueFull when the lane is saturated
func (q *AutomationQueue) Dispatch(_ context.Context, deposit *models.TokenTransfer, run func(ctx context.Context)) error {
	key := laneKey(deposit.LockerID, deposit.ChainID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}

	lane, exists := q.lanes[key]
	if !exists {
		lane = make(chan automationJob, q.laneSize)
		q.lanes[key] = lane
		q.wg.Add(1)
		go q.drain(key, lane)
	}

	select {
	case lane <- automationJob{deposit: deposit, run: run}:
		metrics.AutomationQueueDepth.Inc()
		q.logger.WithFields(logrus.Fields{
			"transfer_id": deposit.ID,
			"lane":        key,
			"queued":      len(lane),
		}).Debug("📥 [Queue] Deposit enqueued")
		return nil
	default:
		return fmt.Errorf("%w %s", ErrQueueFull, key)
	}
}

// drain runs jobs of one lane in order until the lane idles out or the queue stops
func (q *AutomationQueue) drain(key string, lane chan automationJob) {
	defer q.wg.Done()

	idle := time.NewTimer(q.idleAfter)
	defer idle.Stop()

	var lastDone time.Time
	for {
		select {
		case job := <-lane:
			metrics.AutomationQueueDepth.Dec()
			if !lastDone.IsZero() && q.jobGap > 0 {
				if remaining := q.jobGap - time.Since(lastDone); remaining > 0 {
					if err := q.wait(q.ctx, remaining); err != nil {
						q.logger.WithField("transfer_id", job.deposit.ID).
							Warnf("⚠️ [Queue] Lane %s stopped before job ran: %v", key, err)
						return
					}
				}
			}
			q.runJob(key, job)
			lastDone = time.Now()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.idleAfter)

		case <-idle.C:
			q.mu.Lock()
			if len(lane) > 0 {
				// a job slipped in while the timer fired
				q.mu.Unlock()
				idle.Reset(q.idleAfter)
				continue
			}
			delete(q.lanes, key)
			q.mu.Unlock()
			q.logger.Debugf("[Queue] Lane %s idle, exiting", key)
			return

		case <-q.ctx.Done():
			return
		}
	}
}

func (q *AutomationQueue) runJob(key string, job automationJob) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"transfer_id": job.deposit.ID,
				"lane":        key,
			}).Errorf("❌ [Queue] Automation job panicked: %v", r)
		}
	}()
	job.run(q.ctx)
}

// Stop refuses new work, cancels running jobs and waits for every lane to exit.
// Deposits still queued remain STARTED in the ledger.
func (q *AutomationQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.logger.Info("🛑 [Queue] Stopping automation queue...")
	q.cancel()
	q.wg.Wait()
	q.logger.Info("✅ [Queue] Automation queue stopped")
}

// Lanes number of live lanes
func (q *AutomationQueue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
