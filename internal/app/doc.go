// Package app contains the launcher itself. NewApp loads the configuration
// and discovers the pipelines; Run trains every configured object with every
// selected pipeline. It is decoupled from the CLI so tests can drive it
// directly.
package app
