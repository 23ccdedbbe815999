package metrickeys

const (
	Prefix = "scaffolder."

	// Tasks
	TaskDispatched = Prefix + "task.dispatched"
	TaskClaimed    = Prefix + "task.claimed"
	TaskFinished   = Prefix + "task.finished"
	TaskCancelled  = Prefix + "task.cancelled"
	TaskDuration   = Prefix + "task.duration"
	TaskDelay      = Prefix + "task.time_in_queue"
	TasksRunning   = Prefix + "task.running"

	// Steps
	StepProcessed = Prefix + "step.processed"
	StepDuration  = Prefix + "step.duration"

	HeartbeatFailed = Prefix + "heartbeat.failed"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	// Final status of a task or step
	Status = "status"

	ActionID = "action"
)
