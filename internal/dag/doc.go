// Package dag holds the structure of a training graph: cells keyed by a
// unique node ID and the port-to-port connections between them.
//
// Connections are validated when they are made. Both ports must be declared,
// their cty types must be convertible, and an input port accepts at most one
// connection. The graph only describes what is connected; activation order
// and iteration are the executor's concern.
package dag
