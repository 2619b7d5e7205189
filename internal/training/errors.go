package training

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPlanConsumed is returned when a plan is executed a second time.
var ErrPlanConsumed = errors.New("training plan has already been executed")

// PortMismatchError reports a graph that could never deliver a document to
// the writer: the post-processor shares no port with the builder outputs,
// or it does not produce a db_document.
type PortMismatchError struct {
	Pipeline       string
	Reason         string
	BuilderOutputs []string
	PostInputs     []string
	PostOutputs    []string
}

func (e *PortMismatchError) Error() string {
	return fmt.Sprintf("pipeline %s: %s (builder outputs: [%s], post-processor inputs: [%s], post-processor outputs: [%s])",
		e.Pipeline, e.Reason,
		strings.Join(e.BuilderOutputs, ", "),
		strings.Join(e.PostInputs, ", "),
		strings.Join(e.PostOutputs, ", "))
}
