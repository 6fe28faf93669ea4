package llms

// PromptOptions carries the conversation context for one generation.
type PromptOptions struct {
	Instructions string
	Turns        []Turn
	Tools        []Tool
}

type PromptOption func(*PromptOptions)

func WithInstructions(instructions string) PromptOption {
	return func(o *PromptOptions) { o.Instructions = instructions }
}

func WithTurns(turns ...Turn) PromptOption {
	return func(o *PromptOptions) { o.Turns = append(o.Turns, turns...) }
}

func WithTools(tools ...Tool) PromptOption {
	return func(o *PromptOptions) { o.Tools = append(o.Tools, tools...) }
}
