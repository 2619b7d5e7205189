package app

import (
	"github.com/specialistvlad/ortrain/internal/config"
	"github.com/specialistvlad/ortrain/internal/registry"
	"github.com/specialistvlad/ortrain/modules/stats"
	"github.com/specialistvlad/ortrain/modules/tod"
)

// CoreCatalog is the definitive list of pipeline modules compiled into the
// ortrain binary, by namespace.
func CoreCatalog() registry.Catalog {
	return registry.Catalog{
		config.DefaultNamespace: {
			&tod.Module{},
			stats.Module{},
		},
	}
}
