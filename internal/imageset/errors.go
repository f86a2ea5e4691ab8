package imageset

import "fmt"

// GroupingError marks a file that carries no capture identifier.
type GroupingError struct {
	Path string
}

func (e *GroupingError) Error() string {
	return fmt.Sprintf("%s: no capture identifier", e.Path)
}

// IntegrityError reports a capture, or a set of captures, that breaks the
// set's structural invariants.
type IntegrityError struct {
	CaptureID string
	Reason    string
}

func (e *IntegrityError) Error() string {
	if e.CaptureID == "" {
		return "integrity: " + e.Reason
	}
	return fmt.Sprintf("capture %s: %s", e.CaptureID, e.Reason)
}

// RenderError is a stack job that failed.
type RenderError struct {
	CaptureID string
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.CaptureID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// IOError is a filesystem failure on the set's own paths.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
