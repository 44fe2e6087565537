package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPool_RunsSubmittedJobs(t *testing.T) {
	p := NewPool(3, 10)

	var mu sync.Mutex
	ran := 0
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		err := p.Submit(ctx, func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	p.Stop()
	if ran != 20 {
		t.Errorf("ran = %d, want 20", ran)
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, 1)
	p.Stop()

	err := p.Submit(context.Background(), func() {})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Stop error = %v, want ErrPoolClosed", err)
	}
}

func TestPool_SubmitRespectsContext(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Stop()

	block := make(chan struct{})
	ctx := context.Background()
	// Occupy the single worker and fill the queue.
	_ = p.Submit(ctx, func() { <-block })
	_ = p.Submit(ctx, func() {})

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := p.Submit(cctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit on full queue error = %v, want deadline exceeded", err)
	}
	close(block)
}
