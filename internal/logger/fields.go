package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldImaginationID is the imagination (generation job) ID
	FieldImaginationID = "imagination_id"

	// FieldTaskID is the external generation engine task ID
	FieldTaskID = "task_id"

	// FieldBusinessID is the tenant business ID
	FieldBusinessID = "business_id"

	// FieldUserID is the end-user ID
	FieldUserID = "user_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Standard metric fields, attached per log entry for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
