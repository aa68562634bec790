package handlers

import (
	"context"
	"sort"

	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
)

// Handler is a named capability that can execute one plan step.
//
// Execute reports expected failures (bad input, refused or failed work) as a
// Result with Success=false. A non-nil error means the handler itself broke;
// the executor treats that as a fault and halts the plan without recovery.
type Handler interface {
	Name() string
	Description() string
	Execute(ctx context.Context, stepGoal string, args map[string]any, sess *session.Session) (*plan.Result, error)
}

// SchemaProvider is implemented by handlers that publish a JSON Schema for their args.
type SchemaProvider interface {
	Parameters() map[string]any
}

// Capability is the descriptor a handler exposes to the planner.
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Describe builds the capability descriptor of h.
func Describe(h Handler) Capability {
	c := Capability{Name: h.Name(), Description: h.Description()}
	if sp, ok := h.(SchemaProvider); ok {
		c.Parameters = sp.Parameters()
	}
	return c
}

// Registry manages the set of available handlers.
type Registry struct {
	Handlers map[string]Handler
}

func NewRegistry(hs ...Handler) *Registry {
	r := &Registry{
		Handlers: make(map[string]Handler),
	}
	for _, h := range hs {
		r.Register(h)
	}
	return r
}

// Register adds h, replacing any handler with the same name.
func (r *Registry) Register(h Handler) {
	r.Handlers[h.Name()] = h
}

// Get returns the handler registered under name, or nil.
func (r *Registry) Get(name string) Handler {
	return r.Handlers[name]
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Handlers))
	for name := range r.Handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities returns every handler's descriptor sorted by name.
func (r *Registry) Capabilities() []Capability {
	caps := make([]Capability, 0, len(r.Handlers))
	for _, name := range r.Names() {
		caps = append(caps, Describe(r.Handlers[name]))
	}
	return caps
}
