package logging

// LogEntry represents a structured log record with fields relevant to
// evolutionary runs.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Run-specific fields
	RunID      string // Identifier of the current run, if any
	Generation int    // Generation counter, -1 when not attached

	// General structured data
	Fields map[string]interface{}
}
