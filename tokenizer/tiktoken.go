package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// messageOverhead approximates the ChatML framing of one message:
	// <|im_start|>role\n ... <|im_end|>\n
	messageOverhead = 4
	// conversationOverhead is the fixed priming cost of a reply.
	conversationOverhead = 3
)

// modelEncodings maps model name prefixes to tiktoken encodings.
var modelEncodings = map[string]string{
	"gpt-4.1":       "o200k_base",
	"gpt-4o":        "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// encoderCache caches loaded encodings; tiktoken may fetch data on
// first use, so instances are shared process-wide.
var (
	encoderCache   = make(map[string]*tiktoken.Tiktoken)
	encoderCacheMu sync.Mutex
)

// encodingFor picks the tiktoken encoding for a model, trying the
// longest prefix match before the cl100k_base default. Longest wins so
// that "gpt-4o-mini" resolves via "gpt-4o", not "gpt-4".
func encodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best := ""
	for prefix := range modelEncodings {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelEncodings[best]
	}
	return defaultEncoding
}

// encoderFor returns the cached tiktoken encoder for a model.
func encoderFor(model string) (*tiktoken.Tiktoken, error) {
	name := encodingFor(model)

	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()

	if enc, ok := encoderCache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("init tiktoken encoding %s: %w", name, err)
	}
	encoderCache[name] = enc
	return enc, nil
}
