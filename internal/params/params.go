// Package params holds pipeline parameters: an arbitrary JSON-compatible
// object passed unmodified from the configuration into pipeline factories.
package params

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Params is an immutable parameter object. The zero value is empty.
type Params struct {
	val cty.Value
}

// Empty returns a Params with no keys.
func Empty() Params {
	return Params{val: cty.EmptyObjectVal}
}

// New wraps an object or map value. A null value yields empty parameters.
func New(v cty.Value) (Params, error) {
	if v == cty.NilVal || v.IsNull() {
		return Empty(), nil
	}
	if !v.IsWhollyKnown() {
		return Params{}, fmt.Errorf("parameters contain unknown values")
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return Params{}, fmt.Errorf("parameters must be an object, got %s", ty.FriendlyName())
	}
	return Params{val: v}, nil
}

// FromJSON decodes a JSON object.
func FromJSON(data []byte) (Params, error) {
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return Params{}, fmt.Errorf("failed to infer parameter types: %w", err)
	}
	v, err := ctyjson.Unmarshal(data, ty)
	if err != nil {
		return Params{}, fmt.Errorf("failed to decode parameters: %w", err)
	}
	return New(v)
}

// FromMap builds parameters from plain Go values that encoding/json can
// marshal.
func FromMap(m map[string]any) (Params, error) {
	if len(m) == 0 {
		return Empty(), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return Params{}, fmt.Errorf("failed to encode parameters: %w", err)
	}
	return FromJSON(data)
}

// Value returns the underlying cty value.
func (p Params) Value() cty.Value {
	if p.val == cty.NilVal {
		return cty.EmptyObjectVal
	}
	return p.val
}

// Keys returns the top-level keys in sorted order.
func (p Params) Keys() []string {
	v := p.Value()
	keys := make([]string, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		k, _ := it.Element()
		keys = append(keys, k.AsString())
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of top-level keys.
func (p Params) Len() int {
	return p.Value().LengthInt()
}

// Get returns the value stored under key. Null values count as absent.
func (p Params) Get(key string) (cty.Value, bool) {
	v := p.Value()
	ty := v.Type()
	switch {
	case ty.IsObjectType():
		if !ty.HasAttribute(key) {
			return cty.NilVal, false
		}
		attr := v.GetAttr(key)
		return attr, !attr.IsNull()
	case ty.IsMapType():
		k := cty.StringVal(key)
		if v.HasIndex(k).False() {
			return cty.NilVal, false
		}
		el := v.Index(k)
		return el, !el.IsNull()
	}
	return cty.NilVal, false
}

// Has reports whether key is present and not null.
func (p Params) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// String returns a string parameter, or def when absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", p.typeError(key, "string", v)
	}
	return s.AsString(), nil
}

// Int returns an integer parameter, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	n, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, p.typeError(key, "number", v)
	}
	i, acc := n.AsBigFloat().Int64()
	if acc != big.Exact {
		return 0, fmt.Errorf("parameter %q must be a whole number, got %s", key, n.AsBigFloat().String())
	}
	return int(i), nil
}

// Float returns a numeric parameter, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	n, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, p.typeError(key, "number", v)
	}
	f, _ := n.AsBigFloat().Float64()
	return f, nil
}

// Bool returns a boolean parameter, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, p.typeError(key, "bool", v)
	}
	return b.True(), nil
}

// StringList returns a list of strings stored under key.
func (p Params) StringList(key string) ([]string, error) {
	v, ok := p.Get(key)
	if !ok {
		return nil, nil
	}
	l, err := convert.Convert(v, cty.List(cty.String))
	if err != nil {
		return nil, p.typeError(key, "list of strings", v)
	}
	out := make([]string, 0, l.LengthInt())
	for it := l.ElementIterator(); it.Next(); {
		_, el := it.Element()
		if el.IsNull() {
			return nil, fmt.Errorf("parameter %q contains a null element", key)
		}
		out = append(out, el.AsString())
	}
	return out, nil
}

// Object returns the nested object stored under key.
func (p Params) Object(key string) (Params, bool, error) {
	v, ok := p.Get(key)
	if !ok {
		return Empty(), false, nil
	}
	nested, err := New(v)
	if err != nil {
		return Params{}, false, fmt.Errorf("parameter %q: %w", key, err)
	}
	return nested, true, nil
}

// With returns a copy of p where key holds val.
func (p Params) With(key string, val cty.Value) Params {
	attrs := p.attrs()
	attrs[key] = val
	return Params{val: cty.ObjectVal(attrs)}
}

// Merge returns a copy of p overlaid with the top-level keys of other.
func (p Params) Merge(other Params) Params {
	attrs := p.attrs()
	for k, v := range other.attrs() {
		attrs[k] = v
	}
	return Params{val: cty.ObjectVal(attrs)}
}

func (p Params) attrs() map[string]cty.Value {
	v := p.Value()
	attrs := make(map[string]cty.Value, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		k, el := it.Element()
		attrs[k.AsString()] = el
	}
	return attrs
}

// Equal reports whether both parameter sets hold the same values.
func (p Params) Equal(other Params) bool {
	a, errA := p.MarshalJSON()
	b, errB := other.MarshalJSON()
	return errA == nil && errB == nil && string(a) == string(b)
}

// MarshalJSON encodes the parameters as a JSON object with sorted keys.
func (p Params) MarshalJSON() ([]byte, error) {
	v := p.Value()
	return ctyjson.Marshal(v, v.Type())
}

// UnmarshalJSON decodes a JSON object into p.
func (p *Params) UnmarshalJSON(data []byte) error {
	decoded, err := FromJSON(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func (p Params) typeError(key, want string, got cty.Value) error {
	return fmt.Errorf("parameter %q must be a %s, got %s", key, want, got.Type().FriendlyName())
}
