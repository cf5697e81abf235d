package semanticlayer

// Query result statuses reported by the backend, in progression order.
// Only "failed" and "successful" are terminal; the rest are intermediate
// and must never be recorded as a terminal outcome.
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusCompiled   = "compiled"
	StatusFailed     = "failed"
	StatusSuccessful = "successful"
)

// Failure codes attached to non-success outcomes.
const (
	FailureBackend   = "backend_error"   // The backend reported a terminal failure
	FailureTransport = "transport_error" // The request never reached a terminal state
	FailureCancelled = "cancelled"       // The request deadline cut the poll loop
)

// QueryFailure is the typed failure variant of a query outcome.
type QueryFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QueryOutcome is the terminal result of one query submission: either rows
// plus the backend-compiled SQL, or a typed failure. Expected backend error
// states travel through Failure, not Go errors, so callers never rely on
// error matching as control flow for them.
type QueryOutcome struct {
	Rows    []map[string]any `json:"rows,omitempty"`
	SQL     string           `json:"sql,omitempty"`
	Failure *QueryFailure    `json:"failure,omitempty"`
}

// OK reports whether the query reached the successful terminal state.
func (o *QueryOutcome) OK() bool {
	return o.Failure == nil
}

// RowCount returns the number of result rows.
func (o *QueryOutcome) RowCount() int {
	return len(o.Rows)
}

func failure(code, message string) *QueryOutcome {
	return &QueryOutcome{Failure: &QueryFailure{Code: code, Message: message}}
}
