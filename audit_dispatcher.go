package castellan

import (
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples flow goroutines from the sink. Flows enqueue onto
// a buffered channel and a single goroutine drains it, so a slow sink costs
// dropped events rather than latency on the hot path.
type auditDispatcher struct {
	sink       AuditSink
	events     chan AuditEvent
	done       chan struct{}
	wg         sync.WaitGroup
	dropped    atomic.Uint64
	dropIfFull bool
	closeOnce  sync.Once
}

func newAuditDispatcher(sink AuditSink, bufferSize int, dropIfFull bool) *auditDispatcher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	d := &auditDispatcher{
		sink:       sink,
		events:     make(chan AuditEvent, bufferSize),
		done:       make(chan struct{}),
		dropIfFull: dropIfFull,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.events:
			d.sink.Write(event)
		case <-d.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case event := <-d.events:
					d.sink.Write(event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues an event. With dropIfFull the call never blocks; otherwise it
// waits for buffer space unless the dispatcher is shutting down.
func (d *auditDispatcher) Emit(event AuditEvent) {
	if d.dropIfFull {
		select {
		case d.events <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.events <- event:
	case <-d.done:
		d.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded since startup.
func (d *auditDispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops the dispatcher after draining buffered events.
func (d *auditDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
