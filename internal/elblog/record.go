package elblog

import "time"

// LogRecord is one parsed load-balancer access-log line.
//
// LogTimestamp is a naive wall-clock time in the parser's target zone. It is
// labelled time.UTC so database drivers write the wall clock unchanged.
type LogRecord struct {
	LogTimestamp          time.Time `json:"log_timestamp"`
	ClientIP              string    `json:"client_ip"`
	HTTPMethod            string    `json:"http_method"`
	RequestedPath         string    `json:"requested_path"`
	ELBStatusCode         int       `json:"elb_status_code"`
	BackendStatusCode     *int      `json:"backend_status_code"`
	TotalProcessingTimeMs float64   `json:"total_processing_time_ms"`
	ReceivedBytes         int64     `json:"received_bytes"`
	SentBytes             int64     `json:"sent_bytes"`
	UserAgentFull         string    `json:"user_agent_full"`
	UABrowserFamily       string    `json:"ua_browser_family"`
	UAOSFamily            string    `json:"ua_os_family"`
	LogSourceFile         string    `json:"log_source_file"`
}

// Columns lists the table columns in the order Values returns them.
var Columns = []string{
	"log_timestamp",
	"client_ip",
	"http_method",
	"requested_path",
	"elb_status_code",
	"backend_status_code",
	"total_processing_time_ms",
	"received_bytes",
	"sent_bytes",
	"user_agent_full",
	"ua_browser_family",
	"ua_os_family",
	"log_source_file",
}

// Values returns the record's column values, nil for an absent backend status.
func (r LogRecord) Values() []any {
	var backend any
	if r.BackendStatusCode != nil {
		backend = *r.BackendStatusCode
	}
	return []any{
		r.LogTimestamp,
		r.ClientIP,
		r.HTTPMethod,
		r.RequestedPath,
		r.ELBStatusCode,
		backend,
		r.TotalProcessingTimeMs,
		r.ReceivedBytes,
		r.SentBytes,
		r.UserAgentFull,
		r.UABrowserFamily,
		r.UAOSFamily,
		r.LogSourceFile,
	}
}

// Reason says why a line produced no record. The empty Reason means success.
type Reason string

const (
	ReasonTooFewFields     Reason = "too_few_fields"
	ReasonUnbalancedQuotes Reason = "unbalanced_quotes"
	ReasonPlaceholderELB   Reason = "placeholder_elb"
	ReasonBadELBStatus     Reason = "bad_elb_status"
	ReasonBadBackendStatus Reason = "bad_backend_status"
	ReasonBadTimestamp     Reason = "bad_timestamp"
	ReasonBadRequestLine   Reason = "bad_request_line"
	ReasonInvalidEncoding  Reason = "invalid_encoding"
)

// Reasons lists every rejection reason.
var Reasons = []Reason{
	ReasonTooFewFields,
	ReasonUnbalancedQuotes,
	ReasonPlaceholderELB,
	ReasonBadELBStatus,
	ReasonBadBackendStatus,
	ReasonBadTimestamp,
	ReasonBadRequestLine,
	ReasonInvalidEncoding,
}

// Result is the outcome of parsing one line: a record, or the reason there is none.
type Result struct {
	Record LogRecord
	Reason Reason
}

// OK reports whether the line produced a record.
func (r Result) OK() bool { return r.Reason == "" }

func reject(reason Reason) Result {
	return Result{Reason: reason}
}
