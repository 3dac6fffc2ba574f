package audit

import (
	"context"
	"sync"
	"time"
)

// AsyncOptions configures batching for AsyncWriter.
type AsyncOptions struct {
	BufferSize     int           // max queued events before writes fall back to sync
	BatchSize      int           // events per flush
	BatchTimeout   time.Duration // max wait for a partial batch
	StorageTimeout time.Duration // per flush timeout
}

type pending struct {
	event  Event
	result chan error
}

// AsyncWriter batches events onto a BatchStorage from a background goroutine.
// Store blocks until the batch holding the event is flushed.
type AsyncWriter struct {
	bw        BatchStorage
	queue     chan pending
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	opts      AsyncOptions
}

// NewAsyncWriter starts the background flusher.
func NewAsyncWriter(bw BatchStorage, opts AsyncOptions) (*AsyncWriter, error) {
	if bw == nil {
		return nil, ErrNilStorage
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 100 * time.Millisecond
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}

	w := &AsyncWriter{
		bw:    bw,
		queue: make(chan pending, opts.BufferSize),
		done:  make(chan struct{}),
		opts:  opts,
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Store implements Storage.
func (w *AsyncWriter) Store(ctx context.Context, event Event) error {
	select {
	case <-w.done:
		return ErrStorageNotAvailable
	default:
	}

	p := pending{event: event, result: make(chan error, 1)}
	select {
	case w.queue <- p:
	case <-ctx.Done():
		return ctx.Err()
	default:
		// queue full, write through
		return w.bw.StoreBatch(ctx, []Event{event})
	}

	select {
	case err := <-p.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()

	batch := make([]pending, 0, w.opts.BatchSize)
	ticker := time.NewTicker(w.opts.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		events := make([]Event, len(batch))
		for i, p := range batch {
			events[i] = p.event
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.StorageTimeout)
		err := w.bw.StoreBatch(ctx, events)
		cancel()
		for _, p := range batch {
			p.result <- err
		}
		batch = batch[:0]
	}

	for {
		select {
		case p := <-w.queue:
			batch = append(batch, p)
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			for {
				select {
				case p := <-w.queue:
					batch = append(batch, p)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the flusher after draining queued events.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.done) })

	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
