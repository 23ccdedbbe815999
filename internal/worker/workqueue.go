package worker

import "context"

// workQueue bounds the number of tasks a worker processes at the same time. Pollers reserve a
// slot before claiming a task so that no task is claimed that cannot be started right away.
type workQueue struct {
	slots chan struct{}
}

func newWorkQueue(maxParallelTasks int) *workQueue {
	var slots chan struct{}
	if maxParallelTasks > 0 {
		slots = make(chan struct{}, maxParallelTasks)
	}

	return &workQueue{
		slots: slots,
	}
}

func (w *workQueue) reserve(ctx context.Context) error {
	if w.slots == nil {
		// No limit on parallel tasks, only check whether we should stop
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.slots <- struct{}{}:
		return nil
	}
}

func (w *workQueue) release() {
	if w.slots == nil {
		return
	}

	<-w.slots
}
