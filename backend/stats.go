package backend

type Stats struct {
	// OpenTasks are the number of tasks waiting to be claimed by a worker
	OpenTasks int64

	// ProcessingTasks are the number of tasks currently claimed by a worker
	ProcessingTasks int64
}
