// Package errsurface carries authorization failures discovered after a write
// was dispatched to the code that can show them to the user.
package errsurface

import (
	"encoding/json"
	"fmt"

	"github.com/vbonduro/buildtrack/internal/auth"
)

type Operation string

const (
	OpGet    Operation = "get"
	OpList   Operation = "list"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// documentsRoot prefixes paths in the rendered request, matching how the
// remote store names documents in its rule evaluation logs.
const documentsRoot = "/databases/(default)/documents/"

// PermissionError describes a request the backend refused.
type PermissionError struct {
	Path                string          `json:"path"`
	Operation           Operation       `json:"operation"`
	RequestResourceData any             `json:"requestResourceData,omitempty"`
	Principal           *auth.Principal `json:"principal"`
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing or insufficient permissions: %s %s%s was denied", e.Operation, documentsRoot, e.Path)
}

// Request renders the denied request in the shape rule debuggers expect.
func (e *PermissionError) Request() json.RawMessage {
	type resource struct {
		Data any `json:"data"`
	}
	req := struct {
		Auth     *auth.Principal `json:"auth"`
		Method   Operation       `json:"method"`
		Path     string          `json:"path"`
		Resource resource        `json:"resource"`
	}{
		Auth:     e.Principal,
		Method:   e.Operation,
		Path:     documentsRoot + e.Path,
		Resource: resource{Data: e.RequestResourceData},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return data
}
