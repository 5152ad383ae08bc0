package data

import (
	"fmt"
	"strings"
)

type Location struct {
	IATA   string  `json:"iata"`
	City   string  `json:"city"`
	CCA2   string  `json:"cca2"`
	Region string  `json:"region"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

// ServerResult is one candidate server of a provider. Latency fields are
// mutated in place by ping refreshes and reset when the list is refreshed.
type ServerResult struct {
	Server     string  `json:"server"`
	PingChecks int     `json:"ping_checks"`
	PingAvg    float64 `json:"ping_avg_ms"`
	PingFailed bool    `json:"ping_failed"` // excluded until the next successful ping
}

type ServerURL struct {
	Server string
	URL    string
}

// ServerError is a failure attributable to a single server. Server is empty
// when the failure could not be mapped back to one.
type ServerError struct {
	Server string
	Err    error
}

func (e *ServerError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("server test failure: %v", e.Err)
	}
	return fmt.Sprintf("server test failure for %s: %v", e.Server, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }

// ServerErrors lets a batch of server failures travel as one error.
type ServerErrors []*ServerError

func (e ServerErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, se := range e {
		msgs = append(msgs, se.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ServerErrors) Unwrap() []error {
	errs := make([]error, 0, len(e))
	for _, se := range e {
		errs = append(errs, se)
	}
	return errs
}

// Servers returns the distinct, non-empty server identities in e.
func (e ServerErrors) Servers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, se := range e {
		if se == nil || se.Server == "" || seen[se.Server] {
			continue
		}
		seen[se.Server] = true
		out = append(out, se.Server)
	}
	return out
}

type TestResult struct {
	BytesPerSecond int64
	MinPing        float64
	MaxPing        float64
	ServerErrors   ServerErrors
}

// Report is the JSON document printed with --json.
type Report struct {
	Provider string      `json:"provider"`
	Location *Location   `json:"location,omitempty"`
	Latency  Stats       `json:"latency"`
	Download *Speed      `json:"download,omitempty"`
	Upload   *Speed      `json:"upload,omitempty"`
	Servers  []Candidate `json:"servers,omitempty"`
	Errors   []string    `json:"errors,omitempty"`
}

type Stats struct {
	Min float64 `json:"min_ms"`
	Max float64 `json:"max_ms"`
}

type Speed struct {
	Mbps           float64 `json:"mbps"`
	BytesPerSecond int64   `json:"bytes_per_second"`
}

type Candidate struct {
	Server string  `json:"server"`
	PingMs float64 `json:"ping_ms"`
	Failed bool    `json:"failed,omitempty"`
}
