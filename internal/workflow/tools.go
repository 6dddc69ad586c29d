package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/convoflow/internal/intent"
	"github.com/randalmurphal/convoflow/pkg/resilience"
)

// ToolCaller invokes the downstream service that fulfills an intent.
type ToolCaller interface {
	Invoke(ctx context.Context, def intent.Definition, data map[string]string) ([]byte, error)
}

// ServiceInvoker fulfills intents over resilient HTTP clients, one per
// downstream dependency.
type ServiceInvoker struct {
	clients map[string]*resilience.Client
}

// NewServiceInvoker creates an invoker over the given clients, keyed by
// the service names used in intent definitions.
func NewServiceInvoker(clients map[string]*resilience.Client) *ServiceInvoker {
	return &ServiceInvoker{clients: clients}
}

// Invoke implements ToolCaller. Path segments of the form {field} are
// filled from collected data; POST requests additionally carry the
// collected data as a JSON body.
func (si *ServiceInvoker) Invoke(ctx context.Context, def intent.Definition, data map[string]string) ([]byte, error) {
	client, ok := si.clients[def.Service]
	if !ok {
		return nil, fmt.Errorf("no client configured for service %q", def.Service)
	}

	path, err := fillPath(def.Path, data)
	if err != nil {
		return nil, fmt.Errorf("intent %s: %w", def.Name, err)
	}

	var body any
	if def.Method != "GET" {
		body = data
	}
	return client.Call(ctx, def.Method, path, body, nil)
}

// fillPath substitutes {field} placeholders with collected values.
func fillPath(path string, data map[string]string) (string, error) {
	var b strings.Builder
	rest := path
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closeIdx := strings.Index(rest[open:], "}")
		if closeIdx < 0 {
			return "", fmt.Errorf("unbalanced placeholder in path %q", path)
		}
		field := rest[open+1 : open+closeIdx]
		value, ok := data[field]
		if !ok || value == "" {
			return "", fmt.Errorf("missing path field %q", field)
		}
		b.WriteString(rest[:open])
		b.WriteString(value)
		rest = rest[open+closeIdx+1:]
	}
}
