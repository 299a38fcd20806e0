package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrDispatcherBusy is returned by Submit when the intake queue is full.
var ErrDispatcherBusy = errors.New("assist queue full")

// JobType separates real work from the pool's internal stop signal.
type JobType int

const (
	Assist JobType = iota
	Stop
)

// Job is one queued assist action. Run carries the whole pipeline for the
// action; the dispatcher only schedules it. Cancel, when set, is invoked for
// jobs dropped by CancelUser before they ran, so waiters are not left hanging.
type Job struct {
	Type   JobType
	UserID int64
	Kind   string
	Run    func()
	Cancel func()
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher fans assist jobs out to a bounded worker pool. Each user gets
// a FIFO queue; users take turns through an LRU list so one chatty user
// cannot starve the others.
type Dispatcher struct {
	pool     *workerPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[int64]*userQueue
	ready     *list.List // LRU of user IDs with pending jobs
	positions map[int64]*list.Element
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		pool:      newWorkerPool(minWorkers, maxWorkers, idleTimeout),
		jobQueue:  make(chan Job, queueSize),
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
	}

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit hands a job to the dispatcher without blocking.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no work")
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the user in front of the LRU
		if !d.dispatchOne() {
			job := <-d.jobQueue // nothing pending, block for intake
			d.enqueueJob(job)
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
		}
	}
}

// CancelUser drops every queued job for a user. Dropped jobs get their
// Cancel callback, invoked outside the lock.
func (d *Dispatcher) CancelUser(userID int64) {
	d.mu.Lock()
	var dropped []Job
	if q, ok := d.queues[userID]; ok {
		dropped = q.jobs
	}
	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		if job.Cancel != nil {
			job.Cancel()
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(job.UserID)
	d.positions[job.UserID] = elem
}

// dispatchOne takes the first user in the LRU and runs their oldest job.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}

	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign %s job for user %d", job.Kind, userID)
	workerChan <- job
	return true
}
