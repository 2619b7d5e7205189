// Package registry maps pipeline type names to pipeline implementations.
//
// Pipelines are compiled into the binary. Each pipeline package exposes a
// Module whose Register method adds its pipelines to a Registry, and the
// application groups modules into namespaces in a Catalog. Discover walks
// the requested namespaces in order and registers every module exactly once.
// A module that fails or panics is reported in the Result without aborting
// the rest of the scan.
//
// When two pipelines declare the same type name, the one registered later
// wins and the overwrite is logged at WARN level.
package registry
