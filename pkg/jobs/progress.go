package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// Progress is handed to executors. It persists counters and reports cancellation.
type Progress struct {
	engine *Engine
	jobID  int64

	mu        sync.Mutex
	processed int
	total     int
}

func newProgress(e *Engine, jobID int64) *Progress {
	return &Progress{engine: e, jobID: jobID}
}

// JobID returns the job being executed
func (p *Progress) JobID() int64 {
	return p.jobID
}

// SetTotal records how many files the job will touch
func (p *Progress) SetTotal(ctx context.Context, total int) error {
	p.mu.Lock()
	p.total = total
	processed := p.processed
	p.mu.Unlock()
	return p.report(ctx, processed, total)
}

// Advance adds n processed files and persists the new counters
func (p *Progress) Advance(ctx context.Context, n int) error {
	p.mu.Lock()
	p.processed += n
	if p.processed > p.total {
		p.total = p.processed
	}
	processed, total := p.processed, p.total
	p.mu.Unlock()
	return p.report(ctx, processed, total)
}

// report persists counters. A job cancelled underneath the executor yields ErrCancelled.
func (p *Progress) report(ctx context.Context, processed, total int) error {
	err := p.engine.ReportProgress(ctx, p.jobID, processed, total)
	if err != nil && errors.Is(err, vfs.ErrInvalidState) {
		if status, statusErr := p.engine.store.Status(ctx, p.jobID); statusErr == nil && status == StatusCancelled {
			return ErrCancelled
		}
	}
	return err
}

// Counts returns the processed and total counters
func (p *Progress) Counts() (processed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.total
}

// Checkpoint returns ErrCancelled once the job has been cancelled.
// Executors call it between files.
func (p *Progress) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status, err := p.engine.store.Status(ctx, p.jobID)
	if err != nil {
		return err
	}
	if status == StatusCancelled {
		return ErrCancelled
	}
	return nil
}
