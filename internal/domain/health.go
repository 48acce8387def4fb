package domain

// DiagnosticStatus is the outcome of one doctor check.
type DiagnosticStatus string

const (
	DiagnosticOK    DiagnosticStatus = "ok"
	DiagnosticWarn  DiagnosticStatus = "warn"
	DiagnosticError DiagnosticStatus = "error"
)

// Diagnostic is a single doctor check result.
type Diagnostic struct {
	Name    string           `json:"name"`
	Status  DiagnosticStatus `json:"status"`
	Details string           `json:"details"`
}

// DiagnosticReport aggregates doctor checks in run order.
type DiagnosticReport struct {
	Checks []Diagnostic `json:"checks"`
}

// Failures returns the names of checks that ended in error.
func (r DiagnosticReport) Failures() []string {
	var names []string
	for _, check := range r.Checks {
		if check.Status == DiagnosticError {
			names = append(names, check.Name)
		}
	}
	return names
}
