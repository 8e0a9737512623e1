package execute

import "time"

// Level is the severity of a Message.
type Level string

const (
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Message is a driver warning or an execution error.
type Message struct {
	Level   Level  `json:"level"`
	Code    int    `json:"code"`
	State   string `json:"state,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Column describes one result-set column as reported by the driver.
type Column struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	TypeName  string `json:"type_name"`
	ScanType  string `json:"scan_type,omitempty"`
	Length    int64  `json:"length,omitempty"`
	Precision int64  `json:"precision,omitempty"`
	Scale     int64  `json:"scale,omitempty"`
	Nullable  *bool  `json:"nullable,omitempty"`
}

// SubResult is the outcome of a single statement, or of one extra result set of a
// statement that produced several.
type SubResult struct {
	Index         int           `json:"index"`
	SQL           string        `json:"sql"`
	Query         bool          `json:"query"`
	Success       bool          `json:"success"`
	Columns       []Column      `json:"columns"`
	Rows          [][]any       `json:"rows"`
	AffectedRows  int64         `json:"affected_rows"`
	Truncated     bool          `json:"truncated"`
	Messages      []Message     `json:"messages,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
	ExecutionTime time.Duration `json:"execution_time"`
	FetchTime     time.Duration `json:"fetch_time"`
}

// Result is produced exactly once per Engine.Run call. The query, column, row,
// affected-row and truncation fields mirror the first sub-result so single-statement
// callers can ignore SubResults.
type Result struct {
	ID            string        `json:"id"`
	OriginalSQL   string        `json:"original_sql,omitempty"`
	SQL           string        `json:"sql"`
	Database      string        `json:"database,omitempty"`
	Schema        string        `json:"schema,omitempty"`
	Success       bool          `json:"success"`
	Query         bool          `json:"query"`
	Columns       []Column      `json:"columns"`
	Rows          [][]any       `json:"rows"`
	AffectedRows  int64         `json:"affected_rows"`
	Truncated     bool          `json:"truncated"`
	Messages      []Message     `json:"messages,omitempty"`
	SubResults    []SubResult   `json:"sub_results"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
	ExecutionTime time.Duration `json:"execution_time"`
	FetchTime     time.Duration `json:"fetch_time"`
}

// Errors returns the ERROR-level messages of r.
func (r *Result) Errors() []Message {
	var out []Message
	for _, m := range r.Messages {
		if m.Level == LevelError {
			out = append(out, m)
		}
	}
	return out
}

// Err summarizes a failed result as an error, or returns nil on success.
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	if errs := r.Errors(); len(errs) > 0 {
		return &Error{Message: errs[0]}
	}
	return &Error{Message: Message{Level: LevelError, Message: "execution failed"}}
}

// Error carries the first ERROR message of a failed result.
type Error struct {
	Message Message
}

func (e *Error) Error() string {
	if e.Message.State != "" {
		return e.Message.Message + " (state " + e.Message.State + ")"
	}
	return e.Message.Message
}

func (r *Result) mirrorFirst() {
	if len(r.SubResults) == 0 {
		return
	}
	first := r.SubResults[0]
	r.Query = first.Query
	r.Columns = first.Columns
	r.Rows = first.Rows
	r.AffectedRows = first.AffectedRows
	r.Truncated = first.Truncated
}
