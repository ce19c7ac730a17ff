package signal

import (
	"context"
	"sync"
	"time"
)

// cadence runs one ticker per source instance.
type cadence struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// start runs tick immediately and then every interval until stop.
func (c *cadence) start(interval time.Duration, tick func(ctx context.Context)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			tick(ctx)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

// stop cancels the ticker and waits for an in-flight tick to return.
func (c *cadence) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *cadence) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// emit drops batches produced after their tick context was cancelled, so
// a tick racing with stop never reaches the callback.
func emit(ctx context.Context, cb func(Batch), b Batch) {
	if ctx.Err() != nil {
		return
	}
	cb(b)
}
