package middleware

import "github.com/aretw0/espalier/pkg/ports"

// Middleware wraps a ContextStore to add behavior.
type Middleware func(ports.ContextStore) ports.ContextStore

// AuditMiddleware wraps an AuditSink to add behavior.
type AuditMiddleware func(ports.AuditSink) ports.AuditSink

// Chain applies mws to store. The first middleware is the outermost.
func Chain(store ports.ContextStore, mws ...Middleware) ports.ContextStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
