package agent

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// sanitizeJSONPayload strips the markdown code fences some models wrap a
// JSON response in despite being told to respond with raw JSON, validates
// the result is a JSON object via gjson.Valid (cheaper than an
// encoding/json.Unmarshal-and-retry round trip just to check shape), and
// patches in any of defaults' keys the model omitted entirely so a partial
// response still decodes predictably. Used by the decomposition,
// disambiguation, and correction outcome decoders (spec §4.3, §4.5, §4.7).
func sanitizeJSONPayload(content string, defaults map[string]any) (string, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if !gjson.Valid(trimmed) {
		if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	if !gjson.Valid(trimmed) {
		return "", fmt.Errorf("agent: response is not a JSON object")
	}

	var err error
	for key, value := range defaults {
		if gjson.Get(trimmed, key).Exists() {
			continue
		}
		if trimmed, err = sjson.Set(trimmed, key, value); err != nil {
			return "", fmt.Errorf("agent: failed to patch default %q: %w", key, err)
		}
	}
	return trimmed, nil
}
