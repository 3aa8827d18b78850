package agent

import "github.com/coworklabs/cowork/pkg/models"

// needsSignatureRepair reports whether the replayed history contains an
// assistant step with a signed reasoning part whose tool calls are not all
// matched by tool results. Providers reject such replays, so the signatures
// must be stripped and thought generation disabled for one step.
func needsSignatureRepair(messages []models.Message) bool {
	resolved := map[string]bool{}
	for _, m := range messages {
		for _, r := range m.ToolResults() {
			resolved[r.ToolCallID] = true
		}
	}
	for _, m := range messages {
		if m.Role != models.RoleAssistant || !hasSignature(&m) {
			continue
		}
		for _, c := range m.ToolCalls() {
			if !resolved[c.ID] {
				return true
			}
		}
	}
	return false
}

func hasSignature(m *models.Message) bool {
	for _, p := range m.Parts {
		if p.Type == models.PartReasoning && p.Signature != "" {
			return true
		}
	}
	return false
}

// stripSignatures returns a copy of the history with every reasoning
// signature removed. Message and part slices are copied; the originals are
// left untouched.
func stripSignatures(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		out[i] = m
		out[i].Parts = make([]models.Part, len(m.Parts))
		copy(out[i].Parts, m.Parts)
		for j := range out[i].Parts {
			if out[i].Parts[j].Type == models.PartReasoning {
				out[i].Parts[j].Signature = ""
			}
		}
	}
	return out
}
