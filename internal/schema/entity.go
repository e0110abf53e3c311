// Package schema implements the Schema Store (spec §4, component C3):
// per-entity documents, their direct relationships, and the complete
// entity-relationship graph used to discover multi-hop join paths.
//
// Entities are created offline and are immutable at runtime; this package
// only reads them, mirroring the teacher's read-shared store types such as
// vectorstore.VectorStore, which never mutate the documents handed to it.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Column describes one column of an Entity (spec §3, §6.2).
type Column struct {
	Name          string   `json:"Name"`
	DataType      string   `json:"DataType"`
	Definition    string   `json:"Definition"`
	AllowedValues []string `json:"AllowedValues,omitempty"`
	SampleValues  []string `json:"SampleValues,omitempty"`
}

// ForeignKey is one (local_column, foreign_column) pair of a relationship.
type ForeignKey struct {
	Column        string `json:"Column"`
	ForeignColumn string `json:"ForeignColumn"`
}

// Relationship is a direct foreign-key relationship from the owning Entity
// to ForeignFQN, possibly composite (multiple ForeignKeys).
type Relationship struct {
	ForeignFQN  string       `json:"ForeignFQN"`
	ForeignKeys []ForeignKey `json:"ForeignKeys"`
}

// Entity is the per-entity schema document (spec §3, §6.2). FQN uniquely
// identifies it as "database.schema.entity".
type Entity struct {
	FQN        string `json:"FQN"`
	Database   string `json:"Database"`
	Schema     string `json:"Schema"`
	EntityName string `json:"Entity"`
	Name       string `json:"EntityName"`
	Definition string `json:"Definition"`
	Warehouse  string `json:"Warehouse,omitempty"`

	Columns                          []Column       `json:"Columns"`
	EntityRelationships              []Relationship `json:"EntityRelationships"`
	CompleteEntityRelationshipsGraph []string       `json:"CompleteEntityRelationshipsGraph"`
}

// Validate checks the invariants spec.md §3 places on an Entity document:
// a well-formed FQN and columns with non-empty names.
func (e *Entity) Validate() error {
	if e == nil {
		return errors.New("schema: entity is nil")
	}
	if e.FQN == "" {
		return errors.New("schema: entity FQN is required")
	}
	if len(strings.Split(e.FQN, ".")) != 3 {
		return fmt.Errorf("schema: entity FQN %q must be database.schema.entity", e.FQN)
	}
	for i, c := range e.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema: entity %q column %d has no name", e.FQN, i)
		}
	}
	return nil
}

// Column looks up a column by name (case-insensitive, matching the
// generation agent's tolerance for LLM-produced casing).
func (e *Entity) Column(name string) (Column, bool) {
	for _, c := range e.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns every column name, used by the Generation agent to
// build an allow-list of referenceable columns for the schemas it was
// handed (spec §4.6: "Only reference columns present in provided schemas").
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}
