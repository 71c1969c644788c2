// Package events logs purchase state transitions durably, off the tick
// path. The recorder buffers batches on a channel and a background worker
// drains them to the configured writer, so slow disks never stall a tick.
package events

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/atmosphericc/stockwatch/purchase"
)

// ErrRecorderClosed is returned when Record is called after Close.
var ErrRecorderClosed = errors.New("events: recorder closed")

// Recorder is an asynchronous transition logger.
type Recorder struct {
	writer Writer
	ch     chan []purchase.Transition
	done   chan struct{}

	mu     sync.Mutex // guards closed and sends on ch
	closed bool

	errMu sync.Mutex
	err   error
}

// NewRecorder starts a recorder draining into writer.
func NewRecorder(writer Writer) *Recorder {
	r := &Recorder{
		writer: writer,
		ch:     make(chan []purchase.Transition, 64),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record enqueues a transition batch. Empty batches are dropped.
func (r *Recorder) Record(transitions []purchase.Transition) error {
	if len(transitions) == 0 {
		return nil
	}

	batch := make([]purchase.Transition, len(transitions))
	copy(batch, transitions)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	r.ch <- batch
	return nil
}

// Close drains pending batches, closes the writer, and returns the first
// write error encountered.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return r.Err()
	}
	r.closed = true
	r.mu.Unlock()

	close(r.ch)
	<-r.done

	if err := r.writer.Close(); err != nil {
		r.setErr(err)
	}
	return r.Err()
}

// Err returns the first write error encountered, if any.
func (r *Recorder) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Recorder) drain() {
	defer close(r.done)
	for batch := range r.ch {
		if err := r.writer.Write(batch); err != nil {
			slog.Error("transition log write failed", slog.Any("error", err))
			r.setErr(err)
		}
	}
}

func (r *Recorder) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
