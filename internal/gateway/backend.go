// Package gateway dispatches document writes without making callers wait and
// routes authorization failures to the error channel.
package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vbonduro/buildtrack/internal/docref"
)

var (
	// ErrPermissionDenied is returned (wrapped) by a Backend when the acting
	// principal may not perform the request.
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("document not found")
)

type Document struct {
	Ref  docref.Ref
	Data json.RawMessage
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Backend is a document store. Implementations read the acting principal
// with auth.FromContext.
type Backend interface {
	// Set creates or replaces the document at ref.
	Set(ctx context.Context, ref docref.Ref, data json.RawMessage) error
	// Update loads the document's top-level keys, lets fn modify them and
	// stores the result atomically. Missing documents yield ErrNotFound.
	Update(ctx context.Context, ref docref.Ref, fn func(doc map[string]json.RawMessage) error) error
	// Delete removes the document. Deleting a missing document succeeds.
	Delete(ctx context.Context, ref docref.Ref) error
	Get(ctx context.Context, ref docref.Ref) (*Document, error)
	List(ctx context.Context, col docref.CollectionRef) ([]Document, error)
}
