package schema

import (
	"errors"
	"fmt"
)

// Store is the process-wide, read-shared Schema Store (spec §3 Ownership:
// "Schema/ColumnValue/Cache stores are process-wide read-shared"). It never
// mutates an Entity once loaded.
type Store struct {
	entities map[string]*Entity
	graph    *Graph
}

// NewStore builds a Store from a set of entities, validating each one and
// checking the invariant that every ForeignFQN referenced by a relationship
// resolves within the store unless explicitly marked external.
//
// externalFQNs lists FQNs that are allowed to appear as relationship
// targets without a corresponding Entity document (spec §3 invariant).
func NewStore(entities []*Entity, externalFQNs ...string) (*Store, error) {
	if len(entities) == 0 {
		return nil, errors.New("schema: store requires at least one entity")
	}

	external := make(map[string]struct{}, len(externalFQNs))
	for _, fqn := range externalFQNs {
		external[fqn] = struct{}{}
	}

	byFQN := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byFQN[e.FQN]; dup {
			return nil, fmt.Errorf("schema: duplicate entity FQN %q", e.FQN)
		}
		byFQN[e.FQN] = e
	}

	for _, e := range entities {
		for _, rel := range e.EntityRelationships {
			if _, ok := byFQN[rel.ForeignFQN]; ok {
				continue
			}
			if _, ok := external[rel.ForeignFQN]; ok {
				continue
			}
			return nil, fmt.Errorf("schema: entity %q relationship references unresolved FQN %q", e.FQN, rel.ForeignFQN)
		}
	}

	return &Store{
		entities: byFQN,
		graph:    buildGraph(entities),
	}, nil
}

// Get returns the Entity for an FQN.
func (s *Store) Get(fqn string) (*Entity, bool) {
	e, ok := s.entities[fqn]
	return e, ok
}

// All returns every entity in the store. The returned slice is a copy.
func (s *Store) All() []*Entity {
	list := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		list = append(list, e)
	}
	return list
}

// Graph exposes the join-path utility built from every entity's
// CompleteEntityRelationshipsGraph (spec §9 Design Notes).
func (s *Store) Graph() *Graph {
	return s.graph
}

// Len returns the number of entities held by the store.
func (s *Store) Len() int {
	return len(s.entities)
}
