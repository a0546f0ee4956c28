package bridge

import (
	"github.com/bingosuite/inspector/internal/protocol"
)

// HandlerFunc serves one Domain.method. A nil result is reported as {}.
type HandlerFunc func(cmd protocol.Command) (any, error)

// Domain is a backend that adds its commands to a Registry. Register is
// called once per Loop, on the debuggee goroutine.
type Domain interface {
	Register(r *Registry, l *Loop)
}

// Registry is the dispatch table. Every name it knows answers, either with
// its handler or with a uniform not-implemented error.
type Registry struct {
	handlers map[string]HandlerFunc
}

func newRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Handle(name string, h HandlerFunc) {
	r.handlers[name] = h
}

// NotImplemented registers names that answer with a not-implemented error.
func (r *Registry) NotImplemented(names ...string) {
	for _, name := range names {
		r.handlers[name] = func(cmd protocol.Command) (any, error) {
			return nil, protocol.NotImplemented(cmd.Name())
		}
	}
}

func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(r.handlers) }

// Call adapts a typed handler: params are decoded into P first.
func Call[P, R any](fn func(P) (R, error)) HandlerFunc {
	return func(cmd protocol.Command) (any, error) {
		var params P
		if err := protocol.DecodeParams(cmd, &params); err != nil {
			return nil, err
		}
		return fn(params)
	}
}

// Exec adapts a typed handler with no result.
func Exec[P any](fn func(P) error) HandlerFunc {
	return func(cmd protocol.Command) (any, error) {
		var params P
		if err := protocol.DecodeParams(cmd, &params); err != nil {
			return nil, err
		}
		return nil, fn(params)
	}
}

// Do adapts a handler that takes no params and has no result.
func Do(fn func() error) HandlerFunc {
	return func(protocol.Command) (any, error) {
		return nil, fn()
	}
}
