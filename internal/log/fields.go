package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldEventID     = "event_id"
	FieldEntity      = "entity"
	FieldKind        = "kind"
	FieldOutcome     = "outcome"
	FieldPath        = "path"
	FieldParams      = "params"
	FieldHouseholdID = "household_id"
	FieldMemberID    = "member_id"
	FieldTaskID      = "task_id"
	FieldUserID      = "user_id"
	FieldExpenseID   = "expense_id"
	FieldCategoryID  = "category_id"
	FieldMonth       = "month"
	FieldAmountCents = "amount_cents"
	FieldPoints      = "points"
	FieldDuration    = "duration_ms"
	FieldAttempt     = "attempt"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentUpdater   = "updater"
	ComponentCompactor = "compactor"
	ComponentScheduler = "scheduler"
	ComponentNotifier  = "notifier"
	ComponentStore     = "store"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentBackend   = "backend"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names
const (
	OpApplyTask    = "apply_task"
	OpApplyExpense = "apply_expense"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeMalformed     = "malformed_event"
	ErrorTypeMissingTarget = "missing_target"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithEvent(eventID, entity string) LogFields {
	f[FieldEventID] = eventID
	f[FieldEntity] = entity
	return f
}

// WithTarget adds the document path and routing parameters of an aggregate target.
func (f LogFields) WithTarget(path string, params map[string]string) LogFields {
	if path != "" {
		f[FieldPath] = path
	}
	if len(params) > 0 {
		f[FieldParams] = params
	}
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
