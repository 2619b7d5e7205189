// Package database opens a store backend from its URL.
package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/specialistvlad/ortrain/internal/store/couch"
	"github.com/specialistvlad/ortrain/internal/store/memory"
	"github.com/specialistvlad/ortrain/internal/store/postgres"
)

// Open selects a backend by URL scheme:
//
//	memory://name              in-process store shared by name
//	http(s)://host:5984        CouchDB, database Params.Name
//	postgres(ql)://...         PostgreSQL
func Open(ctx context.Context, p store.Params) (store.Store, error) {
	if p.URL == "" {
		return nil, fmt.Errorf("database url is empty")
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}

	logger := ctxlog.FromContext(ctx)
	scheme := strings.ToLower(u.Scheme)
	logger.Debug("Opening database.", "scheme", scheme, "type", p.Type, "name", p.DatabaseName())

	switch scheme {
	case "memory":
		name := u.Host + u.Path
		if name == "" {
			name = p.DatabaseName()
		}
		return memory.Open(name), nil
	case "http", "https":
		return couch.New(p.URL, p.DatabaseName())
	case "postgres", "postgresql":
		return postgres.Open(ctx, p.URL)
	default:
		return nil, fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}
}
