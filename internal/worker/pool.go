package worker

import (
	"sync"
	"time"
)

const defaultWorkerIdle = 30 * time.Second

// workerPool hands out job channels to the dispatcher. It grows on demand up
// to max workers and shrinks back toward min when workers sit idle past the
// expiry.
type workerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*workerSlot
	slots   map[chan Job]*workerSlot
	min     int
	max     int
	running int
	expiry  time.Duration
}

type workerSlot struct {
	ch       chan Job
	lastUsed time.Time
	queued   bool // sitting in the idle list
	retired  bool // marked for removal
}

func newWorkerPool(minWorkers, maxWorkers int, idle time.Duration) *workerPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &workerPool{
		slots:  make(map[chan Job]*workerSlot),
		min:    minWorkers,
		max:    maxWorkers,
		expiry: idle,
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	return p
}

// spawnWorker starts one worker if the pool is not at max, used to warm the
// minimum set at startup. The new worker goes straight onto the idle list so
// acquire can hand it out before it has run anything.
func (p *workerPool) spawnWorker() {
	p.mu.Lock()
	if p.running >= p.max {
		p.mu.Unlock()
		return
	}
	w := newWorker(p)
	slot := &workerSlot{ch: w.jobChannel, lastUsed: time.Now(), queued: true}
	p.slots[w.jobChannel] = slot
	p.idle = append(p.idle, slot)
	p.running++
	p.mu.Unlock()
	w.start()
	p.cond.Signal()
}

// acquire returns an idle worker's channel, growing the pool when allowed
// and blocking when every worker is busy at max.
func (p *workerPool) acquire() chan Job {
	for {
		p.mu.Lock()
		if slot := p.takeIdleLocked(); slot != nil {
			p.mu.Unlock()
			return slot.ch
		}
		if p.running < p.max {
			// Grow: the new worker is handed to this caller directly.
			w := newWorker(p)
			p.slots[w.jobChannel] = &workerSlot{ch: w.jobChannel}
			p.running++
			p.mu.Unlock()
			w.start()
			return w.jobChannel
		}
		p.cond.Wait()
		p.mu.Unlock()
	}
}

// release returns a worker to the idle list after a job finishes.
func (p *workerPool) release(ch chan Job) {
	p.mu.Lock()
	slot, ok := p.slots[ch]
	if !ok || slot.retired || slot.queued {
		p.mu.Unlock()
		return
	}
	slot.queued = true
	slot.lastUsed = time.Now()
	p.idle = append(p.idle, slot)
	p.mu.Unlock()
	p.cond.Signal()
}

// retire removes a worker that received a stop job.
func (p *workerPool) retire(ch chan Job) {
	p.mu.Lock()
	if slot, ok := p.slots[ch]; ok {
		delete(p.slots, ch)
		slot.retired = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *workerPool) takeIdleLocked() *workerSlot {
	for len(p.idle) > 0 {
		slot := p.idle[0]
		p.idle = p.idle[1:]
		if slot.retired {
			continue
		}
		slot.queued = false
		return slot
	}
	return nil
}

func (p *workerPool) reapLoop() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		<-ticker.C
		p.reapIdle()
	}
}

// reapIdle stops workers idle past the expiry, never shrinking below min.
// The stop job is sent outside the lock since the target may be mid-handoff.
func (p *workerPool) reapIdle() {
	var stale []*workerSlot
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, slot := range p.idle {
		if slot.retired {
			continue
		}
		if now.Sub(slot.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			slot.retired = true
			slot.queued = false
			stale = append(stale, slot)
			continue
		}
		remaining = append(remaining, slot)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, slot := range stale {
		slot.ch <- Job{Type: Stop}
	}
}
