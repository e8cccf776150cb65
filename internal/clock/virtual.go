package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Virtual is a Clock whose notion of "now" only advances when Advance is
// called. It lets tests drive elections and lease expirations to
// completion without sleeping real time.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiting timerHeap
	nextID  uint64
}

// NewVirtual creates a Virtual clock starting at the given time.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) Sleep(d time.Duration) {
	done := make(chan struct{})
	v.AfterFunc(d, func() { close(done) })
	<-done
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nextID++
	entry := &timerEntry{
		id:       v.nextID,
		deadline: v.now.Add(d),
		fn:       fn,
		owner:    v,
	}
	heap.Push(&v.waiting, entry)
	return entry
}

// Advance moves the virtual clock forward by d, firing (in deadline
// order) any timers whose deadline is now in the past. Firing a timer
// may itself schedule new timers with earlier deadlines than remain in
// the heap; Advance keeps draining until nothing more is due.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.now = target
	v.mu.Unlock()

	for {
		v.mu.Lock()
		var due []*timerEntry
		for v.waiting.Len() > 0 && !v.waiting[0].deadline.After(target) {
			entry := heap.Pop(&v.waiting).(*timerEntry)
			if entry.cancelled {
				continue
			}
			due = append(due, entry)
		}
		v.mu.Unlock()
		if len(due) == 0 {
			return
		}

		for _, entry := range due {
			entry.fn()
		}
	}
}

// Remaining reports the time until the earliest pending timer fires, or
// zero if none are scheduled.
func (v *Virtual) Remaining() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	var earliest *timerEntry
	for _, entry := range v.waiting {
		if !entry.cancelled && (earliest == nil || entry.deadline.Before(earliest.deadline)) {
			earliest = entry
		}
	}
	if earliest == nil {
		return 0
	}
	remaining := earliest.deadline.Sub(v.now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

type timerEntry struct {
	id        uint64
	deadline  time.Time
	fn        func()
	cancelled bool
	owner     *Virtual
	index     int
}

func (e *timerEntry) Stop() {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	e.cancelled = true
}

func (e *timerEntry) Remaining() time.Duration {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	if e.cancelled {
		return 0
	}
	remaining := e.deadline.Sub(e.owner.now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// timerHeap orders pending timers by deadline; it backs a standard
// container/heap priority queue.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *timerHeap) Push(x interface{}) {
	entry := x.(*timerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
