// Package install verifies and applies an update package: mount, key
// check, signature check, then hand-off to the package's own installer
// (native update-binary or legacy update-script).
package install

// Status is the closed set of outcomes of any terminating operation.
type Status int

const (
	// StatusSuccess: the operation completed.
	StatusSuccess Status = iota
	// StatusError: the operation failed but the input may be fine;
	// surfaced to the operator.
	StatusError
	// StatusCorrupt: the input is structurally invalid or unverifiable;
	// retrying with the same package cannot succeed.
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusCorrupt:
		return "corrupt"
	}
	return "unknown"
}
