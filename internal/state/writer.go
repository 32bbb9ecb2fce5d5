package state

import (
	"log"
	"os"
	"sync/atomic"

	"github.com/voyagerhq/voyager/internal/coord"
	"github.com/voyagerhq/voyager/internal/dispatch"
)

// Writer decouples the dispatcher from disk: Persist enqueues and returns,
// a single goroutine drains to the store. A full queue drops the snapshot;
// a newer one always follows while the request is alive, and SaveSnapshot's
// version guard makes out-of-order arrivals harmless.
type Writer struct {
	store   SnapshotStore
	queue   chan coord.Snapshot
	done    chan struct{}
	stopped chan struct{}
	dropped atomic.Uint64
	logger  *log.Logger
}

var _ dispatch.SnapshotSink = (*Writer)(nil)

// NewWriter starts a write-behind writer over the store.
func NewWriter(store SnapshotStore) *Writer {
	w := &Writer{
		store:   store,
		queue:   make(chan coord.Snapshot, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  log.New(os.Stderr, "[state] ", log.LstdFlags),
	}
	go w.drain()
	return w
}

// Persist enqueues a snapshot without blocking the caller.
func (w *Writer) Persist(snap coord.Snapshot) {
	select {
	case <-w.done:
		w.dropped.Add(1)
		return
	default:
	}
	select {
	case w.queue <- snap:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the number of snapshots dropped due to a full queue.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close flushes the queue and stops the writer. Persist calls after Close
// are dropped.
func (w *Writer) Close() {
	close(w.done)
	<-w.stopped
}

func (w *Writer) drain() {
	defer close(w.stopped)
	for {
		select {
		case snap := <-w.queue:
			w.save(snap)
		case <-w.done:
			for {
				select {
				case snap := <-w.queue:
					w.save(snap)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) save(snap coord.Snapshot) {
	if err := w.store.SaveSnapshot(snap); err != nil {
		w.logger.Printf("persist snapshot %s v%d: %v", snap.RequestID, snap.Version, err)
	}
}
