// Package port describes the named, typed inputs and outputs of a cell.
//
// Port types are cty types. Payloads that have no natural cty representation
// (images, depth maps) travel as capsule values, so a connection between two
// ports can always be checked by comparing or converting their cty types.
package port

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Spec declares a single port.
type Spec struct {
	Name string
	Type cty.Type
	Doc  string
}

// Specs is an ordered list of port declarations. Order is significant: it is
// the order in which ports are reported and wired.
type Specs []Spec

// Names returns the port names in declaration order.
func (s Specs) Names() []string {
	names := make([]string, len(s))
	for i, spec := range s {
		names[i] = spec.Name
	}
	return names
}

// Lookup returns the port with the given name.
func (s Specs) Lookup(name string) (Spec, bool) {
	for _, spec := range s {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}

// Has reports whether a port with the given name is declared.
func (s Specs) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Validate checks that every port has a name, a type, and that names are unique.
func (s Specs) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for i, spec := range s {
		if spec.Name == "" {
			return fmt.Errorf("port #%d has an empty name", i)
		}
		if spec.Type == cty.NilType {
			return fmt.Errorf("port %q has no type", spec.Name)
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("port %q declared more than once", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return nil
}

// Values carries the values of a set of ports, keyed by port name.
type Values map[string]cty.Value

// Nulls returns typed null values for every declared port.
func Nulls(specs Specs) Values {
	out := make(Values, len(specs))
	for _, spec := range specs {
		out[spec.Name] = cty.NullVal(spec.Type)
	}
	return out
}

// Intersect returns the names declared in both outs and ins, in the order of
// outs. It is the wiring rule used wherever two cells are connected by name.
func Intersect(outs, ins Specs) []string {
	var names []string
	for _, out := range outs {
		if ins.Has(out.Name) {
			names = append(names, out.Name)
		}
	}
	return names
}

// Compatible reports whether a value produced on a port of type from can be
// delivered to a port of type to.
func Compatible(from, to cty.Type) bool {
	if to == cty.DynamicPseudoType || from == cty.DynamicPseudoType {
		return true
	}
	if from.Equals(to) {
		return true
	}
	return convert.GetConversion(from, to) != nil
}

// Convert adapts a value to the type of the receiving port.
func Convert(val cty.Value, to cty.Type) (cty.Value, error) {
	if to == cty.DynamicPseudoType || val.Type().Equals(to) {
		return val, nil
	}
	return convert.Convert(val, to)
}
