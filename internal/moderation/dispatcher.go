package moderation

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/spaolacci/murmur3"

	"tg-guardian/internal/crash"
)

// Dispatcher runs event handlers on a fixed set of workers. Events with the
// same (group, user) key always land on the same worker, so they run in
// arrival order; other keys proceed in parallel.
type Dispatcher struct {
	queues []chan func()
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{queues: make([]chan func(), workers)}
	for i := range d.queues {
		q := make(chan func(), queueSize)
		d.queues[i] = q
		d.wg.Add(1)
		go d.work(i, q)
	}
	return d
}

func (d *Dispatcher) work(id int, q <-chan func()) {
	defer d.wg.Done()
	name := fmt.Sprintf("dispatcher-%d", id)
	for fn := range q {
		dispatchQueued.Dec()
		crash.Guard(name, fn)()
	}
}

func (d *Dispatcher) shard(groupID, userID int64) int {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(groupID))
	binary.LittleEndian.PutUint64(buf[8:], uint64(userID))
	return int(murmur3.Sum32(buf[:]) % uint32(len(d.queues)))
}

// Submit queues fn behind earlier events of the same key. It blocks while
// that worker's queue is full and returns false once the dispatcher stopped.
func (d *Dispatcher) Submit(groupID, userID int64, fn func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	dispatchQueued.Inc()
	d.queues[d.shard(groupID, userID)] <- fn
	return true
}

// Stop rejects new events, runs the queued ones and waits for the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
