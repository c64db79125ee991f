package types

// TokenUsage represents token consumption reported for one call.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// Add adds another TokenUsage to this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// UsageReporter is implemented by responses that carry an authoritative
// usage report. When a wrapped call's result implements it, the reported
// counts replace the pre-call estimates at commit time.
type UsageReporter interface {
	Usage() TokenUsage
}

// Message is a role/content pair, the payload shape metered calls are
// estimated from.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
