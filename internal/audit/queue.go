// Package audit implements the bounded async audit pipeline of spec §4.12:
// a drop-oldest overflow queue drained to one or more durable sinks (file,
// syslog, S3 export), with redaction applied before serialization.
package audit

import (
	"sync"
	"sync/atomic"

	"github.com/yatagarasu/yatagarasu/internal/log"
)

// Queue is the bounded async channel records are enqueued onto. Overflow
// policy is drop-oldest: when full, Enqueue discards the oldest queued
// record to make room rather than blocking the request path, per spec
// §4.12, and increments Dropped.
type Queue struct {
	ch      chan Record
	sinks   []Sink
	dropped uint64

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewQueue builds a Queue with the given capacity, draining to sinks.
func NewQueue(capacity int, sinks []Sink) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		ch:    make(chan Record, capacity),
		sinks: sinks,
		stop:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.drain()
	return q
}

// Enqueue adds a record, dropping the oldest queued record if the queue is
// full. It never blocks.
func (q *Queue) Enqueue(r Record) {
	select {
	case q.ch <- r:
		return
	default:
	}
	select {
	case <-q.ch:
		atomic.AddUint64(&q.dropped, 1)
	default:
	}
	select {
	case q.ch <- r:
	default:
		atomic.AddUint64(&q.dropped, 1)
	}
}

// Dropped returns the count of records discarded due to overflow.
func (q *Queue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		select {
		case r := <-q.ch:
			q.write(r)
		case <-q.stop:
			q.drainRemaining()
			return
		}
	}
}

func (q *Queue) drainRemaining() {
	for {
		select {
		case r := <-q.ch:
			q.write(r)
		default:
			return
		}
	}
}

func (q *Queue) write(r Record) {
	for _, sink := range q.sinks {
		if err := sink.Write(r); err != nil {
			log.Warn("audit sink write failed", log.Pairs{"sink": sink.Name(), "err": err.Error()})
		}
	}
}

// Shutdown stops the drain goroutine after flushing whatever is currently
// queued, then closes every sink. Per spec §4.12's graceful shutdown
// sequence, this is called after in-flight requests finish but before the
// process exits.
func (q *Queue) Shutdown() {
	close(q.stop)
	q.wg.Wait()
	for _, sink := range q.sinks {
		if err := sink.Close(); err != nil {
			log.Warn("audit sink close failed", log.Pairs{"sink": sink.Name(), "err": err.Error()})
		}
	}
}
