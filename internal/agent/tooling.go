package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/tool"
)

// toolSpecs resolves a subset of a Registry's tools into the llm.ToolSpec
// shape the chat-completion client needs, skipping any name not registered
// rather than failing: a deployment may wire a reduced tool set for a given
// engine.
func toolSpecs(tools *tool.Registry, names ...string) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		t, ok := tools.Find(name)
		if !ok {
			continue
		}
		def := t.Definition()
		specs = append(specs, llm.ToolSpec{
			Name:        def.Name(),
			Description: def.Description(),
			Parameters:  def.Schema(),
		})
	}
	return specs
}

// toolExecutor adapts a Registry into the llm.ToolExecutor function shape
// RunToolLoop drives.
func toolExecutor(tools *tool.Registry) llm.ToolExecutor {
	return func(ctx context.Context, name, argsJSON string) (string, error) {
		t, ok := tools.Find(name)
		if !ok {
			return "", fmt.Errorf("agent: tool %q is not registered", name)
		}
		return t.Call(ctx, argsJSON)
	}
}

// harvestToolResults collects the JSON results of every RoleTool message in
// history produced by toolName, in call order, for callers that need the
// raw tool output rather than the model's paraphrase of it (spec §4.4:
// Schema Selection "Returns the union of retrieved Entity documents").
func harvestToolResults(history []llm.Message, toolName string) []json.RawMessage {
	var out []json.RawMessage
	for _, m := range history {
		if m.Role != llm.RoleTool || m.Name != toolName {
			continue
		}
		out = append(out, json.RawMessage(m.Content))
	}
	return out
}
