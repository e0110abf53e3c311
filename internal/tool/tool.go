// Package tool implements the Tool Registry (spec §4.9, C6): typed,
// LLM-invokable functions wired to the Schema Store, Column-Value Store,
// Search Connector, SQL Validator, and SQL Connector. The Registry shape is
// grounded on the teacher's ai/model/tool package (Registry, Definition,
// Builder), generalized from the teacher's string-in/string-out CallableTool
// to a JSON-in/JSON-out Handler since every tool here exchanges structured
// arguments and results rather than free text.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Handler executes one tool call. argsJSON is the raw JSON arguments object
// the model produced; the returned string is the JSON-encoded result fed
// back to the model (spec §4.9: "All tools are side-effect-free except
// execute_sql").
type Handler func(ctx context.Context, argsJSON string) (string, error)

// Definition describes a tool's name, description, and JSON Schema, the
// same three facts the teacher's Definition carries (ai/model/tool/definition.go).
type Definition struct {
	name        string
	description string
	schema      json.RawMessage
}

func (d *Definition) Name() string             { return d.name }
func (d *Definition) Description() string      { return d.description }
func (d *Definition) Schema() json.RawMessage  { return d.schema }

// Tool pairs a Definition with its Handler.
type Tool struct {
	definition *Definition
	handler    Handler
}

func (t *Tool) Definition() *Definition { return t.definition }

// Call invokes the tool's handler.
func (t *Tool) Call(ctx context.Context, argsJSON string) (string, error) {
	if t.handler == nil {
		return "", fmt.Errorf("tool: %s has no handler", t.definition.name)
	}
	return t.handler(ctx, argsJSON)
}

// New builds a Tool, deriving its JSON Schema from the Go type parameter via
// github.com/invopop/jsonschema (spec DOMAIN STACK: "generating JSON Schemas
// for C6 tool definitions from Go structs").
func New[Args any](name, description string, handler Handler) (*Tool, error) {
	if name == "" {
		return nil, errors.New("tool: name is required")
	}
	if handler == nil {
		return nil, errors.New("tool: handler is required")
	}
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(new(Args))
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: failed to derive schema for %s: %w", name, err)
	}
	return &Tool{
		definition: &Definition{name: name, description: description, schema: raw},
		handler:    handler,
	}, nil
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("tool: failed to marshal result: %w", err)
	}
	return string(b), nil
}
