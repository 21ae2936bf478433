// Package elblog parses load-balancer access-log lines into LogRecords.
//
// A line is tokenized shell-style, so quoted request and user-agent strings
// stay whole, then read by position:
//
//	0 type  1 time  2 elb  3 client:port  4 target:port
//	5 request_processing_time  6 target_processing_time  7 response_processing_time
//	8 elb_status_code  9 target_status_code  10 received_bytes  11 sent_bytes
//	12 "request"  13 "user_agent"  ...
//
// Structural problems reject the line with a Reason. Defective numeric
// fields and unknown user agents fall back to defaults instead.
package elblog

import (
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"
)

// DefaultZone is the civil time zone log timestamps are converted to.
const DefaultZone = "America/New_York"

// MinFields is the minimum token count of a usable line.
const MinFields = 15

const (
	idxTime          = 1
	idxELB           = 2
	idxClient        = 3
	idxRequestTime   = 5
	idxBackendTime   = 6
	idxResponseTime  = 7
	idxELBStatus     = 8
	idxBackendStatus = 9
	idxReceived      = 10
	idxSent          = 11
	idxRequest       = 12
	idxUserAgent     = 13
)

var timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{1,6}Z$`)

// Parser turns raw lines into records. It holds only immutable settings, so
// one Parser may be shared freely.
type Parser struct {
	loc *time.Location
	ua  Classifier
}

type Option func(*Parser)

// WithLocation sets the zone timestamps are converted to.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) { p.loc = loc }
}

// WithClassifier replaces the user-agent classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Parser) { p.ua = c }
}

// New builds a Parser targeting DefaultZone with the default classifier
// unless options say otherwise.
func New(opts ...Option) (*Parser, error) {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	if p.loc == nil {
		loc, err := time.LoadLocation(DefaultZone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", DefaultZone, err)
		}
		p.loc = loc
	}
	if p.ua == nil {
		p.ua = DefaultClassifier()
	}
	return p, nil
}

// Location returns the target zone.
func (p *Parser) Location() *time.Location { return p.loc }

// Parse parses one line read from source. It never fails: a line that cannot
// become a record comes back with a non-empty Reason.
func (p *Parser) Parse(line, source string) Result {
	if !utf8.ValidString(line) {
		return reject(ReasonInvalidEncoding)
	}

	// POSIX word splitting without comment handling: '#' is an ordinary
	// character, and inside double quotes a backslash only escapes '"', '\',
	// '$' and '`'.
	parts, err := shellquote.Split(line)
	if err != nil {
		return reject(ReasonUnbalancedQuotes)
	}
	if len(parts) < MinFields {
		return reject(ReasonTooFewFields)
	}

	if parts[idxELB] == "-" {
		return reject(ReasonPlaceholderELB)
	}

	// Backend status is nullable in the table, but a non-digit token still
	// rejects the line.
	if !isDigits(parts[idxELBStatus]) {
		return reject(ReasonBadELBStatus)
	}
	if !isDigits(parts[idxBackendStatus]) {
		return reject(ReasonBadBackendStatus)
	}
	elbStatus, err := strconv.Atoi(parts[idxELBStatus])
	if err != nil {
		return reject(ReasonBadELBStatus)
	}
	backendStatus, err := strconv.Atoi(parts[idxBackendStatus])
	if err != nil {
		return reject(ReasonBadBackendStatus)
	}

	ts, ok := p.timestamp(parts[idxTime])
	if !ok {
		return reject(ReasonBadTimestamp)
	}

	request := strings.Fields(parts[idxRequest])
	if len(request) < 2 {
		return reject(ReasonBadRequestLine)
	}

	totalMs := (seconds(parts[idxRequestTime]) +
		seconds(parts[idxBackendTime]) +
		seconds(parts[idxResponseTime])) * 1000

	userAgent := parts[idxUserAgent]
	browser, os := p.ua.Classify(userAgent)

	return Result{Record: LogRecord{
		LogTimestamp:          ts,
		ClientIP:              clientAddr(parts[idxClient]),
		HTTPMethod:            request[0],
		RequestedPath:         requestPath(request[1]),
		ELBStatusCode:         elbStatus,
		BackendStatusCode:     &backendStatus,
		TotalProcessingTimeMs: totalMs,
		ReceivedBytes:         byteCount(parts[idxReceived]),
		SentBytes:             byteCount(parts[idxSent]),
		UserAgentFull:         userAgent,
		UABrowserFamily:       browser,
		UAOSFamily:            os,
		LogSourceFile:         source,
	}}
}

// timestamp parses an ISO-8601 UTC time with fractional seconds and returns
// the whole-second wall clock in the target zone, labelled UTC.
func (p *Parser) timestamp(s string) (time.Time, bool) {
	if !timestampRe.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	local := t.In(p.loc)
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), 0, time.UTC), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// seconds reads a timing field. Placeholders, ALB's -1 sentinel and anything
// unparsable count as zero.
func seconds(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func byteCount(s string) int64 {
	if !isDigits(s) {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func clientAddr(s string) string {
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// requestPath keeps only the path of a request URL, byte for byte: the
// scheme and authority, the query, the fragment and any ;params of the last
// segment are dropped, and nothing is unescaped or re-escaped.
func requestPath(raw string) string {
	scheme, rest := splitScheme(raw)
	if strings.HasPrefix(rest, "//") {
		if i := strings.IndexAny(rest[2:], "/?#"); i >= 0 {
			rest = rest[2+i:]
		} else {
			rest = ""
		}
	}
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	if paramSchemes[scheme] {
		rest = stripParams(rest)
	}
	return rest
}

// paramSchemes are the schemes whose last path segment may carry ;params.
var paramSchemes = map[string]bool{"": true, "http": true, "https": true}

// splitScheme returns the lowercased scheme and the text after its colon, or
// "" and raw when raw does not start with one.
func splitScheme(raw string) (string, string) {
	i := strings.IndexByte(raw, ':')
	if i <= 0 || !isLetter(raw[0]) {
		return "", raw
	}
	for j := 1; j < i; j++ {
		c := raw[j]
		if !isLetter(c) && !(c >= '0' && c <= '9') && c != '+' && c != '-' && c != '.' {
			return "", raw
		}
	}
	return strings.ToLower(raw[:i]), raw[i+1:]
}

func stripParams(path string) string {
	from := 0
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		from = i
	}
	if i := strings.IndexByte(path[from:], ';'); i >= 0 {
		return path[:from+i]
	}
	return path
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
