package config

import "context"

// Loader reads a configuration file into a Model.
type Loader interface {
	Load(ctx context.Context, path string) (*Model, error)
}
