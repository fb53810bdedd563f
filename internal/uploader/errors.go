package uploader

import (
	"fmt"
)

// ValidationError reports a file that failed pre-accept checks. It surfaces
// before any file bytes are written, so there is never storage to clean up.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid upload %s: %s", e.Name, e.Reason)
}

// UploadError wraps any failure inside the per-file upload sequence. The
// original error is preserved and reachable through errors.Is/As.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed for %s: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
