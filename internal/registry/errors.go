package registry

import (
	"fmt"
	"strings"
)

// DiscoveryError is returned when a requested namespace does not exist.
type DiscoveryError struct {
	Namespace string
	Known     []string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("unknown pipeline namespace %q (known: %s)", e.Namespace, strings.Join(e.Known, ", "))
}

// ModuleError records a module whose registration failed or panicked.
// Pipelines the module registered before failing are discarded.
type ModuleError struct {
	Namespace string
	Module    string
	Panicked  bool
	Err       error
}

func (e *ModuleError) Error() string {
	verb := "failed"
	if e.Panicked {
		verb = "panicked"
	}
	return fmt.Sprintf("module %s in namespace %q %s during registration: %v", e.Module, e.Namespace, verb, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

// UnknownPipelineTypeError is returned when no pipeline is registered under
// the requested type name.
type UnknownPipelineTypeError struct {
	Name  string
	Known []string
}

func (e *UnknownPipelineTypeError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown pipeline type %q: no pipelines are registered", e.Name)
	}
	return fmt.Sprintf("unknown pipeline type %q (registered: %s)", e.Name, strings.Join(e.Known, ", "))
}
