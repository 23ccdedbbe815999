package tracing

const (
	TaskID     = "task.id"
	TaskStatus = "task.status"
	TaskSteps  = "task.steps"

	StepID   = "step.id"
	StepName = "step.name"

	ActionID = "action.id"

	ErrorName = "error.name"
)
