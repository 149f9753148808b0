package proto

// Template is reusable text: a chat template fills the user input box, a
// prompt template fills the system prompt.
type Template struct {
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`
	Content string `json:"content"`
}

// Templates holds both template kinds keyed by template id.
type Templates struct {
	Chat   map[string]Template `json:"chat_templates"`
	Prompt map[string]Template `json:"prompt_templates"`
}

// ResetTemplatesResponse reports whether the example templates were found.
// Templates is the set in effect afterwards.
type ResetTemplatesResponse struct {
	Reset     bool      `json:"reset"`
	Templates Templates `json:"templates"`
}
