// Package docref names documents the same way for every backend:
// users/{scope}/{collection}/{id}.
package docref

import (
	"fmt"
	"strings"
)

const root = "users"

type CollectionRef struct {
	Scope      string
	Collection string
}

func Collection(scope, collection string) CollectionRef {
	return CollectionRef{Scope: scope, Collection: collection}
}

func (c CollectionRef) Path() string {
	return root + "/" + c.Scope + "/" + c.Collection
}

func (c CollectionRef) Doc(id string) Ref {
	return Ref{Scope: c.Scope, Collection: c.Collection, ID: id}
}

type Ref struct {
	Scope      string
	Collection string
	ID         string
}

func (r Ref) Path() string {
	return r.Parent().Path() + "/" + r.ID
}

func (r Ref) Parent() CollectionRef {
	return CollectionRef{Scope: r.Scope, Collection: r.Collection}
}

func (r Ref) String() string { return r.Path() }

// Parse is the inverse of Ref.Path.
func Parse(path string) (Ref, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != root {
		return Ref{}, fmt.Errorf("invalid document path %q", path)
	}
	for _, p := range parts[1:] {
		if p == "" {
			return Ref{}, fmt.Errorf("invalid document path %q", path)
		}
	}
	return Ref{Scope: parts[1], Collection: parts[2], ID: parts[3]}, nil
}
