package contract

// FlowType selects which scripted call flow a conversation runs.
type FlowType string

const (
	FlowFraud FlowType = "fraud"
	FlowLead  FlowType = "lead"
	FlowOrder FlowType = "order"
)

func (f FlowType) Valid() bool {
	switch f {
	case FlowFraud, FlowLead, FlowOrder:
		return true
	}
	return false
}

// ToolArgs carries the decoded arguments of a single tool invocation.
// Values arrive as JSON-decoded any (string/float64/bool).
type ToolArgs map[string]any

// ToolCall is one inbound invocation from the voice/LLM runtime.
type ToolCall struct {
	SessionID string   `json:"session_id"`
	Tool      string   `json:"tool"`
	Args      ToolArgs `json:"args,omitempty"`
}

// ToolReply is what every tool hands back: the sentence the voice runtime
// should speak, plus a structured result for the caller and the logs.
type ToolReply struct {
	Speech string `json:"speech"`
	Result any    `json:"result,omitempty"`
}
