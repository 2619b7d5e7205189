package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/specialistvlad/ortrain/internal/ctxlog"
)

// Catalog maps a namespace name to its modules, in registration order.
type Catalog map[string][]Module

// Namespaces returns the catalog's namespace names in sorted order.
func (c Catalog) Namespaces() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Named may be implemented by modules to control how they appear in logs
// and errors. Otherwise the module's Go type is used.
type Named interface {
	Name() string
}

func moduleName(m Module) string {
	if n, ok := m.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", m)
}

// Result is the outcome of Discover.
type Result struct {
	Registry *Registry
	Failures []*ModuleError
}

// Err joins the module failures, or returns nil.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Discover builds a fresh Registry from the given namespaces of the catalog.
// Namespaces are visited in the given order and modules in catalog order;
// on a type name collision the later registration wins. Unknown namespaces
// fail the whole call before any module is registered.
func Discover(ctx context.Context, catalog Catalog, namespaces []string) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	for _, ns := range namespaces {
		if _, ok := catalog[ns]; !ok {
			return nil, &DiscoveryError{Namespace: ns, Known: catalog.Namespaces()}
		}
	}

	res := &Result{Registry: New(logger)}
	for _, ns := range namespaces {
		for _, mod := range catalog[ns] {
			name := moduleName(mod)
			staged, err := registerModule(ctx, ns, name, mod)
			if err != nil {
				logger.Error("Pipeline module failed to register.", "namespace", ns, "module", name, "error", err)
				res.Failures = append(res.Failures, err)
				continue
			}
			res.Registry.merge(staged)
		}
	}

	logger.Debug("Pipeline discovery finished.", "namespaces", namespaces, "pipelines", res.Registry.Names(), "failures", len(res.Failures))
	return res, nil
}

// registerModule registers a single module into its own registry so that a
// failure leaves no partial registrations behind.
func registerModule(ctx context.Context, ns, name string, mod Module) (staged *Registry, modErr *ModuleError) {
	staged = New(ctxlog.FromContext(ctx))
	staged.namespace = ns
	staged.module = name

	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			staged = nil
			modErr = &ModuleError{Namespace: ns, Module: name, Panicked: true, Err: err}
		}
	}()

	if err := mod.Register(staged); err != nil {
		return nil, &ModuleError{Namespace: ns, Module: name, Err: err}
	}
	return staged, nil
}
