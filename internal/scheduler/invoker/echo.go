package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// EchoHandler logs its params and returns them. It stands in for real admin
// actions in development and smoke tests.
type EchoHandler struct{}

func (e *EchoHandler) Run(ctx context.Context, params map[string]interface{}) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	rendered, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to render params: %w", err)
	}
	log.Printf("EchoHandler: processed params: %s", rendered)
	return fmt.Sprintf("echo: %s", rendered), nil
}
