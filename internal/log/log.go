package log

const (
	NamespaceKey = "scaffolder"

	TaskIDKey     = NamespaceKey + ".task.id"
	TaskStatusKey = NamespaceKey + ".task.status"
	StepIDKey     = NamespaceKey + ".step.id"
	StepNameKey   = NamespaceKey + ".step.name"
	ActionIDKey   = NamespaceKey + ".action.id"
	PollerKey     = NamespaceKey + ".poller"

	AttemptKey  = NamespaceKey + ".attempt"
	DurationKey = NamespaceKey + ".duration_ms"
)
