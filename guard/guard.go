package guard

import (
	"sync"
	"sync/atomic"
)

// Busy admits at most one clean sequence at a time. Callers that lose the
// race get false from TryAcquire and should refuse the submission rather
// than queue it.
type Busy struct {
	cond *sync.Cond
	busy atomic.Bool
}

func NewBusy() *Busy {
	var locker sync.Mutex
	return &Busy{
		cond: sync.NewCond(&locker),
	}
}

func (busy *Busy) TryAcquire() bool {
	return busy.busy.CompareAndSwap(false, true)
}

func (busy *Busy) Release() {
	if !busy.busy.Load() {
		return
	}
	busy.cond.L.Lock()
	busy.busy.Store(false)
	busy.cond.Broadcast()
	busy.cond.L.Unlock()
}

func (busy *Busy) Busy() bool {
	return busy.busy.Load()
}

// Wait blocks until no sequence is in flight.
func (busy *Busy) Wait() {
	if !busy.busy.Load() {
		return
	}
	busy.cond.L.Lock()
	for busy.busy.Load() {
		busy.cond.Wait()
	}
	busy.cond.L.Unlock()
}
