package claims

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
)

// Errors distinguishing a claim that is absent from one that is present
// but carries an unexpected shape. Callers decide which of the two is
// fatal for their operation.
var (
	ErrClaimMissing    = errors.New("claim not present")
	ErrClaimWrongShape = errors.New("claim has unexpected shape")
)

// Kind identifies the runtime type of a claim value.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindStringList
)

// Value is a tagged claim value. Exactly one of the fields corresponding
// to Kind is meaningful.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	List []string
}

// Claims is the verified attribute set of an authenticated subject.
// It is read-only for everything downstream of the token source; claim
// names are supplied by configuration at call time.
type Claims struct {
	values map[string]Value
}

// New builds a Claims object from already-typed values. Mostly useful
// in tests; production code goes through FromMap.
func New(values map[string]Value) Claims {
	m := make(map[string]Value, len(values))
	for k, v := range values {
		m[k] = v
	}
	return Claims{values: m}
}

// FromMap converts the loosely-typed claim map produced by the OIDC
// library into typed claim values. Unsupported shapes (nested objects,
// mixed lists) are dropped rather than failing the whole claim set.
func FromMap(raw map[string]any) Claims {
	values := make(map[string]Value, len(raw))
	for name, v := range raw {
		val, ok := convert(v)
		if !ok {
			continue
		}
		values[name] = val
	}
	return Claims{values: values}
}

func convert(v any) (Value, bool) {
	switch t := v.(type) {
	case string:
		return Value{Kind: KindString, Str: t}, true
	case bool:
		return Value{Kind: KindBool, Bool: t}, true
	case float64:
		return Value{Kind: KindNumber, Num: t}, true
	case int:
		return Value{Kind: KindNumber, Num: float64(t)}, true
	case int64:
		return Value{Kind: KindNumber, Num: float64(t)}, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, false
		}
		return Value{Kind: KindNumber, Num: f}, true
	case []string:
		return Value{Kind: KindStringList, List: append([]string(nil), t...)}, true
	case []any:
		list := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return Value{}, false
			}
			list = append(list, s)
		}
		return Value{Kind: KindStringList, List: list}, true
	default:
		return Value{}, false
	}
}

// Has reports whether a claim with the given name is present.
func (c Claims) Has(name string) bool {
	_, ok := c.values[name]
	return ok
}

// String returns the claim as a string. A numeric or boolean claim is
// not coerced; that is a shape error.
func (c Claims) String(name string) (string, error) {
	v, ok := c.values[name]
	if !ok {
		return "", fmt.Errorf("claim %q: %w", name, ErrClaimMissing)
	}
	if v.Kind != KindString {
		return "", fmt.Errorf("claim %q: %w", name, ErrClaimWrongShape)
	}
	return v.Str, nil
}

// StringList returns the claim as a list of strings. A single string
// value is not promoted to a one-element list.
func (c Claims) StringList(name string) ([]string, error) {
	v, ok := c.values[name]
	if !ok {
		return nil, fmt.Errorf("claim %q: %w", name, ErrClaimMissing)
	}
	if v.Kind != KindStringList {
		return nil, fmt.Errorf("claim %q: %w", name, ErrClaimWrongShape)
	}
	return v.List, nil
}

// Bool returns the claim as a boolean.
func (c Claims) Bool(name string) (bool, error) {
	v, ok := c.values[name]
	if !ok {
		return false, fmt.Errorf("claim %q: %w", name, ErrClaimMissing)
	}
	if v.Kind != KindBool {
		return false, fmt.Errorf("claim %q: %w", name, ErrClaimWrongShape)
	}
	return v.Bool, nil
}

// Time parses the claim as a timestamp. String claims go through loose
// natural-format parsing (providers disagree on date formats); numeric
// claims are treated as Unix seconds.
func (c Claims) Time(name string) (time.Time, error) {
	v, ok := c.values[name]
	if !ok {
		return time.Time{}, fmt.Errorf("claim %q: %w", name, ErrClaimMissing)
	}
	switch v.Kind {
	case KindString:
		t, err := dateparse.ParseAny(v.Str)
		if err != nil {
			return time.Time{}, fmt.Errorf("claim %q: %w: %v", name, ErrClaimWrongShape, err)
		}
		return t, nil
	case KindNumber:
		return time.Unix(int64(v.Num), 0), nil
	default:
		return time.Time{}, fmt.Errorf("claim %q: %w", name, ErrClaimWrongShape)
	}
}

// Names returns the claim names present in the set.
func (c Claims) Names() []string {
	names := make([]string, 0, len(c.values))
	for name := range c.values {
		names = append(names, name)
	}
	return names
}
