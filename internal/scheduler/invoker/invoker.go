// Package invoker is the in-process action invoker: it dispatches a task's
// opaque action descriptor to a handler registered for the descriptor's
// operation. The concrete admin actions (Graph API calls, PowerShell
// bridging, report rendering) plug in as handlers.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Handler performs one named operation.
type Handler interface {
	Run(ctx context.Context, params map[string]interface{}) (result string, err error)
}

// actionDescriptor is the envelope every action descriptor shares. Params
// stay opaque to the registry; each handler interprets its own.
type actionDescriptor struct {
	Operation string                 `json:"operation"`
	Params    map[string]interface{} `json:"params"`
}

// Registry maps operation names to handlers and implements the executor's
// ActionInvoker interface.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(operation string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.Printf("Registering action handler for operation: %s", operation)
	r.handlers[operation] = h
}

func (r *Registry) get(operation string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, exists := r.handlers[operation]
	if !exists {
		return nil, fmt.Errorf("no handler registered for operation: %s", operation)
	}
	return h, nil
}

// Invoke parses the descriptor and runs the matching handler.
func (r *Registry) Invoke(ctx context.Context, action string) (string, error) {
	var desc actionDescriptor
	if err := json.Unmarshal([]byte(action), &desc); err != nil {
		return "", fmt.Errorf("unreadable action descriptor: %w", err)
	}
	h, err := r.get(desc.Operation)
	if err != nil {
		return "", err
	}
	return h.Run(ctx, desc.Params)
}
