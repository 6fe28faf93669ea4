package llms

// Role describes who a conversation turn belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one finalized exchange entry in the conversation history handed to
// the dialogue engine.
type Turn struct {
	ID      string
	Role    Role
	Content string

	ToolCalls []ToolCall

	// Interrupted marks an assistant turn whose reply was cut off by the
	// user; Content then holds only the text that was actually spoken.
	Interrupted bool
}

// Response is the assembled result of one generation.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolCall is a tool invocation requested by the model, together with the
// response produced by executing it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Response  string
}

// Usage reports token accounting for one generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
