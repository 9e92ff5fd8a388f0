package verifier

import "strings"

// GroupedError collects the failures of one appraisal and exposes them
// as a single error. Callers can inspect the Errors field for the
// individual findings.
type GroupedError struct {
	// The prefix string returned by Error(), followed by the grouped
	// failures one per line.
	Prefix string
	Errors []error
}

func (gErr *GroupedError) Error() string {
	if len(gErr.Errors) == 0 {
		return gErr.Prefix + ": no failures recorded"
	}
	var sb strings.Builder
	for _, err := range gErr.Errors {
		sb.WriteString("\n")
		sb.WriteString(err.Error())
	}
	return gErr.Prefix + sb.String()
}

// Unwrap lets errors.Is and errors.As reach the grouped failures.
func (gErr *GroupedError) Unwrap() []error {
	return gErr.Errors
}
