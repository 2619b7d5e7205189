package executor

// State represents the execution state of a node in the graph.
type State int32

const (
	// Pending indicates the node has not been activated yet.
	Pending State = iota
	// Running indicates the node is currently being activated.
	Running
	// Done indicates the node's last activation completed successfully.
	Done
	// Failed indicates the node's last activation returned an error.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
