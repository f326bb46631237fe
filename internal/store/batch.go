package store

import (
	"sync"
	"time"

	"codeberg.org/mutker/fogpdm/internal/logger"
)

// batcher buffers rows and writes them through flushFn when the buffer
// fills up, when the batch timeout ticks and on close.
type batcher struct {
	logger  logger.Logger
	size    int
	flushFn func([]row) error

	mu            sync.Mutex
	buffer        []row
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func newBatcher(size int, timeout time.Duration, log logger.Logger, flushFn func([]row) error) *batcher {
	b := &batcher{
		logger:        log,
		size:          max(size, 1),
		flushFn:       flushFn,
		buffer:        make([]row, 0, max(size, 1)),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Periodic flushing only matters when rows can sit in the buffer.
	if b.size > 1 && timeout > 0 {
		b.flushTicker = time.NewTicker(timeout)
		go b.flusher()
	} else {
		close(b.flushDoneChan)
	}

	return b
}

func (b *batcher) add(r row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer = append(b.buffer, r)
	if len(b.buffer) >= b.size {
		return b.flushLocked()
	}
	return nil
}

func (b *batcher) flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

// flushLocked writes the buffer. Rows of a failed batch are dropped so a
// persistent error cannot grow the buffer without bound.
func (b *batcher) flushLocked() error {
	if len(b.buffer) == 0 {
		return nil
	}

	n := len(b.buffer)
	err := b.flushFn(b.buffer)
	b.buffer = b.buffer[:0]
	if err != nil {
		b.logger.Error().Err(err).Int("rows", n).Msg("Failed to flush results, batch dropped")
		return err
	}

	b.logger.Debug().Int("rows", n).Msg("Flushed results")
	return nil
}

func (b *batcher) flusher() {
	defer close(b.flushDoneChan)

	for {
		select {
		case <-b.flushTicker.C:
			_ = b.flush()
		case <-b.shutdownChan:
			return
		}
	}
}

// close stops the flusher and writes what is left.
func (b *batcher) close() error {
	b.closeOnce.Do(func() {
		close(b.shutdownChan)
		if b.flushTicker != nil {
			b.flushTicker.Stop()
		}
	})
	<-b.flushDoneChan

	return b.flush()
}
