package worker

type poolWorker struct {
	pool       *workerPool
	jobChannel chan Job
}

func newWorker(pool *workerPool) *poolWorker {
	return &poolWorker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *poolWorker) start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.runJob(job)
			w.pool.release(w.jobChannel)
		}
	}()
}

func (w *poolWorker) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			debugLog("[worker] job %s for user %d panicked: %v", job.Kind, job.UserID, r)
		}
	}()
	job.Run()
}
