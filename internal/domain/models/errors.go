package models

import (
	"errors"
	"fmt"
)

// ErrInvalidReport marks a record that fails schema validation.
var ErrInvalidReport = errors.New("invalid report")

// FileWriteError is returned when a report cannot be durably and atomically
// published. No file is visible under the final name when it is returned.
type FileWriteError struct {
	Op   string // create, write, sync, publish
	Path string
	Err  error
}

func (e *FileWriteError) Error() string {
	return fmt.Sprintf("report write %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileWriteError) Unwrap() error { return e.Err }

// IsFileWriteError reports whether err carries a *FileWriteError.
func IsFileWriteError(err error) bool {
	var fwe *FileWriteError
	return errors.As(err, &fwe)
}
