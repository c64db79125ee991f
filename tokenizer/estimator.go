package tokenizer

import (
	"unicode/utf8"

	"github.com/tetherai/tether-go/types"
)

// estimateTokens is a character-count-based token estimate. It
// distinguishes CJK and ASCII characters for better accuracy than a
// naive len/4 approach.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	// CJK characters ~1.5 chars/token, ASCII ~4 chars/token.
	cjkTokens := float64(cjkCount) / 1.5
	asciiTokens := float64(totalChars-cjkCount) / 4.0
	estimated := int(cjkTokens + asciiTokens)

	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

// estimateMessages applies the same per-message and conversation
// overheads as the tiktoken path so that the two backends remain
// comparable for admission estimates.
func estimateMessages(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverhead
		total += estimateTokens(msg.Role)
		total += estimateTokens(msg.Content)
	}
	total += conversationOverhead
	return total
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
