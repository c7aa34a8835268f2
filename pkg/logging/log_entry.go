package logging

// LogEntry represents a structured log record with fields for correlating
// concurrent dispatches.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Dispatch correlation fields
	GoalID  string // The request being processed
	TraceID string // The trace involved, if any
	Mode    string // Execution mode selected for the request

	// General structured data
	Fields map[string]interface{}
}
