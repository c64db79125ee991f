package types

import "testing"

func TestTokenUsage_Add(t *testing.T) {
	t.Parallel()

	u := TokenUsage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140, Cost: 0.5}
	u.Add(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: 0.25})

	if u.PromptTokens != 110 || u.CompletionTokens != 45 || u.TotalTokens != 155 {
		t.Fatalf("unexpected totals: %+v", u)
	}
	if u.Cost != 0.75 {
		t.Fatalf("unexpected cost: %v", u.Cost)
	}

	var zero TokenUsage
	zero.Add(TokenUsage{})
	if zero != (TokenUsage{}) {
		t.Fatalf("zero + zero changed: %+v", zero)
	}
}
