// Package prompt implements the Prompt/Config Loader (spec §2, §4, C12):
// Jinja-templated agent prompts parameterized by use_case, target_engine,
// engine_specific_rules, row_limit, and current_datetime, grounded on the
// same github.com/nikolalohinski/gonja rendering internal/cache uses for
// cache SQL templates (internal/cache/cache.go Render).
package prompt

import (
	"fmt"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/exec"

	"github.com/text2sql/orchestrator/internal/config"
)

// Vars carries the five placeholders spec §2 names for C12, independent of
// any agent-specific extras passed separately to Render.
type Vars struct {
	UseCase             string
	TargetEngine        config.Engine
	EngineSpecificRules string
	RowLimit            int
	CurrentDateTime     string
}

// Loader holds the named prompt templates for every C7 agent.
type Loader struct {
	templates map[string]string
}

// NewLoader builds a Loader from an explicit template set. Pass nil to use
// DefaultTemplates().
func NewLoader(templates map[string]string) *Loader {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Loader{templates: templates}
}

// DefaultTemplates returns a copy of the seed prompt bodies so callers can
// override individual entries without mutating package state.
func DefaultTemplates() map[string]string {
	out := make(map[string]string, len(defaultTemplates))
	for k, v := range defaultTemplates {
		out[k] = v
	}
	return out
}

// Render executes the named template against vars plus any agent-specific
// extra values (e.g. the sub-question text, retrieved schemas). If
// vars.EngineSpecificRules is empty, it falls back to EngineRules(vars.TargetEngine).
func (l *Loader) Render(name string, vars Vars, extra map[string]any) (string, error) {
	src, ok := l.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt: unknown template %q", name)
	}

	env, err := gonja.FromString(src)
	if err != nil {
		return "", fmt.Errorf("prompt: invalid template %q: %w", name, err)
	}

	rules := vars.EngineSpecificRules
	if rules == "" {
		rules = EngineRules(vars.TargetEngine)
	}

	ctx := exec.NewContext(map[string]any{
		"use_case":              vars.UseCase,
		"target_engine":         string(vars.TargetEngine),
		"engine_specific_rules": rules,
		"row_limit":             vars.RowLimit,
		"current_datetime":      vars.CurrentDateTime,
	})
	for k, v := range extra {
		ctx.Set(k, v)
	}

	out, err := env.ExecuteToString(ctx)
	if err != nil {
		return "", fmt.Errorf("prompt: render failed for %q: %w", name, err)
	}
	return out, nil
}
