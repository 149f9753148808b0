package provider

import "strings"

// continuePrompt is appended when a conversation would otherwise end on an
// assistant turn, which chat APIs that require a closing user turn reject.
const continuePrompt = "Please continue the discussion."

// splitSystem joins all system entries into one prompt and returns the
// remaining turns in order.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	return strings.Join(system, "\n\n"), turns
}

// mergeTurns folds consecutive turns of the same role into one.
func mergeTurns(turns []Message) []Message {
	merged := make([]Message, 0, len(turns))
	for _, turn := range turns {
		if n := len(merged); n > 0 && merged[n-1].Role == turn.Role {
			merged[n-1].Content += "\n\n" + turn.Content
			continue
		}
		merged = append(merged, turn)
	}
	return merged
}
