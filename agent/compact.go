package agent

import (
	"github.com/m4xw311/stepwise/plan"
	"github.com/m4xw311/stepwise/session"
)

// Compact drops finished step transitions from a conversation. The first
// preamble messages and the final message are always kept. Every assistant
// message calling advance_to_next_step is dropped together with the tool
// result that answers it, unless that result is the final message. Other
// messages are kept in order.
//
// Compact never grows the history and is idempotent.
func Compact(msgs []session.Message, preamble int) []session.Message {
	if preamble > len(msgs) {
		preamble = len(msgs)
	}
	out := make([]session.Message, 0, len(msgs))
	out = append(out, msgs[:preamble]...)
	if len(msgs) == preamble {
		return out
	}

	last := len(msgs) - 1
	for i := preamble; i < last; i++ {
		if isAdvanceExchange(msgs, i, last) {
			i++
			continue
		}
		out = append(out, msgs[i])
	}
	return append(out, msgs[last])
}

// isAdvanceExchange reports whether msgs[i] is an advance call whose tool
// result follows immediately and is not the final message.
func isAdvanceExchange(msgs []session.Message, i, last int) bool {
	call := msgs[i]
	if call.Role != session.RoleAssistant || !call.CallsTool(plan.ToolAdvance) {
		return false
	}
	if i+1 >= last {
		return false
	}
	result := msgs[i+1]
	return result.Role == session.RoleTool && result.ToolCallID == call.ToolCalls[0].ID
}
