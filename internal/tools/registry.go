// Package tools holds the fixed table of callable tools and their
// parameter schemas.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ParamType is the JSON type a parameter must carry.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Param describes one named argument.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// Spec is the public description of a tool.
type Spec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Param returns the declared parameter with the given name.
func (s Spec) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Handler runs a tool with already validated arguments.
type Handler interface {
	Handle(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f(ctx, args)
}

// Entry binds a spec to its handler.
type Entry struct {
	Spec    Spec
	Handler Handler
}

// Registry is built once at startup and read-only afterwards, so it needs
// no locking.
type Registry struct {
	entries []Entry
	byName  map[string]int
}

// NewRegistry validates and indexes entries. Every problem is reported.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(entries))}

	var errs []error
	for _, e := range entries {
		name := strings.TrimSpace(e.Spec.Name)
		if name == "" {
			errs = append(errs, errors.New("tool with empty name"))
			continue
		}
		if _, dup := r.byName[name]; dup {
			errs = append(errs, fmt.Errorf("tool %q registered twice", name))
			continue
		}
		if e.Handler == nil {
			errs = append(errs, fmt.Errorf("tool %q has no handler", name))
			continue
		}
		if err := checkParams(e.Spec); err != nil {
			errs = append(errs, err)
			continue
		}

		e.Spec.Name = name
		e.Spec.Params = append([]Param(nil), e.Spec.Params...)
		r.byName[name] = len(r.entries)
		r.entries = append(r.entries, e)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func checkParams(spec Spec) error {
	seen := make(map[string]bool, len(spec.Params))
	for _, p := range spec.Params {
		switch {
		case p.Name == "":
			return fmt.Errorf("tool %q: parameter with empty name", spec.Name)
		case seen[p.Name]:
			return fmt.Errorf("tool %q: parameter %q declared twice", spec.Name, p.Name)
		case !p.Type.valid():
			return fmt.Errorf("tool %q: parameter %q has unknown type %q", spec.Name, p.Name, p.Type)
		}
		seen[p.Name] = true
	}
	return nil
}

// List returns every spec in registration order.
func (r *Registry) List() []Spec {
	specs := make([]Spec, len(r.entries))
	for i, e := range r.entries {
		specs[i] = e.Spec
		specs[i].Params = append([]Param(nil), e.Spec.Params...)
	}
	return specs
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Spec.Name
	}
	return names
}

func (r *Registry) Len() int {
	return len(r.entries)
}
