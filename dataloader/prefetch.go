package dataloader

import (
	"context"
	"fmt"
	"sync"
)

// Prefetcher drives a worker pool that loads batches ahead of the consumer.
// The training loop blocks on Next while workers decode and preprocess in the
// background; the channel depth bounds how far they run ahead. A prefetcher
// covers exactly one epoch: Start it after Reset on the loader, drain it with
// Next until nil, then Stop.
type Prefetcher struct {
	loader  *Loader
	workers int

	batches chan *Batch
	errs    chan error
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewPrefetcher creates a prefetcher with the given worker count and
// prefetch depth. Defaults: 2 workers, depth 3.
func NewPrefetcher(loader *Loader, workers, depth int) *Prefetcher {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		loader:  loader,
		workers: workers,
		batches: make(chan *Batch, depth),
		errs:    make(chan error, workers),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (p *Prefetcher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("prefetcher already started")
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.batches)
	}()
	return nil
}

func (p *Prefetcher) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		batch, err := p.loader.Next()
		if err != nil {
			select {
			case p.errs <- err:
			case <-p.ctx.Done():
			}
			return
		}
		if batch == nil {
			return
		}

		select {
		case p.batches <- batch:
		case <-p.ctx.Done():
			return
		}
	}
}

// Next blocks until a batch is ready. It returns (nil, nil) once the epoch is
// drained.
func (p *Prefetcher) Next() (*Batch, error) {
	select {
	case err := <-p.errs:
		return nil, err
	case batch, ok := <-p.batches:
		if !ok {
			// Workers done; surface any trailing error.
			select {
			case err := <-p.errs:
				return nil, err
			default:
				return nil, nil
			}
		}
		return batch, nil
	}
}

// Stop cancels outstanding work and waits for the workers to exit. Stopping
// a prefetcher that was never started is a no-op.
func (p *Prefetcher) Stop() {
	p.cancel()
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		// Nothing ever closes batches, so the drain below would block.
		return
	}
	p.wg.Wait()
	for range p.batches {
		// Drain anything the workers queued before cancellation.
	}
}
