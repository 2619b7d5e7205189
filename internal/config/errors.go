package config

import (
	"errors"
	"fmt"
)

// ErrMissingFile is wrapped by the Error returned for a path that does not
// exist.
var ErrMissingFile = errors.New("configuration file does not exist")

// Error is returned for any configuration problem. Key is empty for
// file-level failures.
type Error struct {
	Path string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: key %q: %v", e.Path, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
