package clip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"opclip/internal/route"
	"opclip/internal/store"
)

var (
	// ErrTooLong means the requested window exceeds the configured
	// maximum clip length.
	ErrTooLong = errors.New("clip exceeds maximum length")

	// ErrQueueFull means the queue is at capacity.
	ErrQueueFull = errors.New("render queue is full")
)

// ClipRenderer renders one clip. *Renderer is the real implementation.
type ClipRenderer interface {
	Render(ctx context.Context, c route.Clip, title string) (*Output, error)
}

// Queue is a bounded FIFO of clip requests consumed by render workers.
type Queue struct {
	requests chan Request
	renderer ClipRenderer
	jobs     *store.Store // optional
	logger   *zap.Logger
	maxLen   atomic.Int32
}

// NewQueue creates a queue with the given depth and clip length limit.
// jobs may be nil to skip history recording.
func NewQueue(renderer ClipRenderer, jobs *store.Store, depth, maxClipSeconds int, logger *zap.Logger) *Queue {
	if depth < 1 {
		depth = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		requests: make(chan Request, depth),
		renderer: renderer,
		jobs:     jobs,
		logger:   logger,
	}
	q.maxLen.Store(int32(maxClipSeconds))
	return q
}

// MaxClipLength returns the current clip length limit in seconds.
func (q *Queue) MaxClipLength() int {
	return int(q.maxLen.Load())
}

// SetMaxClipLength updates the limit; used by config hot reload.
func (q *Queue) SetMaxClipLength(seconds int) {
	if seconds > 0 {
		q.maxLen.Store(int32(seconds))
	}
}

// Pending returns how many requests are waiting in the queue.
func (q *Queue) Pending() int {
	return len(q.requests)
}

// Enqueue validates and queues a request, returning how many requests
// were in line ahead of it.
func (q *Queue) Enqueue(ctx context.Context, req Request) (int, error) {
	if req.Reporter == nil {
		req.Reporter = discard{}
	}
	if max := q.MaxClipLength(); req.Clip.Window.Length() > max {
		return 0, fmt.Errorf("%w: %ds > %ds", ErrTooLong, req.Clip.Window.Length(), max)
	}

	q.record(ctx, req)

	ahead := len(q.requests)
	select {
	case q.requests <- req:
	default:
		q.finish(req, ErrQueueFull, 0)
		return 0, ErrQueueFull
	}

	q.logger.Info("queued clip request",
		zap.String("id", req.ID),
		zap.String("requester", req.Requester),
		zap.String("clip", req.Description()),
		zap.Int("ahead", ahead))
	req.Reporter.Queued(ahead)
	return ahead, nil
}

// Run consumes the queue with the given number of workers until ctx is
// done. Requests still queued at shutdown are failed in the store by
// the next startup's MarkInterrupted pass.
func (q *Queue) Run(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		name := fmt.Sprintf("clip-worker-%d", i)
		go func() {
			defer wg.Done()
			q.logger.Info("started worker", zap.String("worker", name))
			for {
				select {
				case <-ctx.Done():
					return
				case req := <-q.requests:
					q.process(ctx, req)
				}
			}
		}()
	}
	wg.Wait()
}

func (q *Queue) process(ctx context.Context, req Request) {
	q.logger.Info("processing clip request",
		zap.String("id", req.ID),
		zap.String("requester", req.Requester),
		zap.String("clip", req.Description()))

	q.setStatus(req, store.StatusRendering)
	req.Reporter.Rendering()

	out, err := q.renderer.Render(ctx, req.Clip, req.Title)
	if err != nil {
		q.logger.Warn("clip render failed", zap.String("id", req.ID), zap.Error(err))
		q.finish(req, err, 0)
		req.Reporter.Failed(err)
		return
	}
	defer out.Cleanup()

	req.Reporter.Succeeded(out.Path, out.Size)
	q.finish(req, nil, out.Size)
}

// Store writes are best effort: history must never take the bot down.

func (q *Queue) record(ctx context.Context, req Request) {
	if q.jobs == nil {
		return
	}
	job := store.Job{
		ID:           req.ID,
		Requester:    req.Requester,
		Route:        req.Clip.Route.Canonical(),
		StartSeconds: req.Clip.Window.StartSeconds,
		EndSeconds:   req.Clip.Window.EndSeconds,
		Title:        req.Title,
		Bookmark:     req.Bookmark,
	}
	if err := q.jobs.Record(ctx, job); err != nil {
		q.logger.Warn("failed to record job", zap.String("id", req.ID), zap.Error(err))
	}
}

func (q *Queue) setStatus(req Request, status string) {
	if q.jobs == nil {
		return
	}
	if err := q.jobs.SetStatus(context.Background(), req.ID, status); err != nil {
		q.logger.Warn("failed to update job", zap.String("id", req.ID), zap.Error(err))
	}
}

func (q *Queue) finish(req Request, jobErr error, size int64) {
	if q.jobs == nil {
		return
	}
	if err := q.jobs.Finish(context.Background(), req.ID, jobErr, size); err != nil {
		q.logger.Warn("failed to finalize job", zap.String("id", req.ID), zap.Error(err))
	}
}
