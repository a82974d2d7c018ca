package provider

import (
	"encoding/json"
	"math"
	"strings"
)

// QualityScore rates a provider reply from 0 to 100. A JSON object scores
// 60 plus 5 per top-level key, capped at 100. Plain text scores one point per
// 20 characters, capped at 60.
func QualityScore(text string) float64 {
	text = stripFence(text)
	if text == "" {
		return 0
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return math.Min(100, 60+5*float64(len(obj)))
	}
	return math.Min(60, float64(len(text)/20))
}

// stripFence removes a surrounding markdown code fence.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
