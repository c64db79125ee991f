package tokenizer

import (
	"strings"

	"go.uber.org/zap"

	"github.com/tetherai/tether-go/types"
)

// Backend selects the token counting implementation.
type Backend string

const (
	// BackendTiktoken counts with the local tiktoken tokenizer.
	BackendTiktoken Backend = "tiktoken"
	// BackendEstimator counts with a character-ratio heuristic that
	// needs no tokenizer data.
	BackendEstimator Backend = "estimator"
	// BackendExternal delegates to a model-aware external counter.
	BackendExternal Backend = "external"
	// BackendAuto prefers a configured external counter and falls
	// back to tiktoken.
	BackendAuto Backend = "auto"
)

// ExternalCounter is a model-aware token estimator supplied by the
// caller, e.g. one backed by a provider SDK.
type ExternalCounter interface {
	CountTokens(text, model string) (int, error)
	CountMessages(messages []types.Message, model string) (int, error)
}

// Counter estimates token counts for texts and message sequences.
// Counting is advisory: it feeds pre-admission cost estimates, so
// callers treat a counting failure as an estimate of 0 and log rather
// than abort the call path. Authoritative counts come from the call's
// own usage report when available.
type Counter struct {
	backend  Backend
	external ExternalCounter
	logger   *zap.Logger
}

// Option configures a Counter.
type Option func(*Counter)

// WithBackend selects the counting backend explicitly.
func WithBackend(b Backend) Option {
	return func(c *Counter) { c.backend = b }
}

// WithExternalCounter supplies the external backend implementation.
func WithExternalCounter(ec ExternalCounter) Option {
	return func(c *Counter) { c.external = ec }
}

// WithLogger sets the logger used for degradation warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Counter) { c.logger = logger }
}

// NewCounter creates a token counter. The default backend is auto:
// a configured external counter is preferred, otherwise tiktoken.
func NewCounter(opts ...Option) *Counter {
	c := &Counter{backend: BackendAuto, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.backend == BackendAuto {
		if c.external != nil {
			c.backend = BackendExternal
		} else {
			c.backend = BackendTiktoken
		}
	}
	if c.backend == BackendExternal && c.external == nil {
		c.logger.Warn("external token backend selected without a counter, falling back to tiktoken")
		c.backend = BackendTiktoken
	}
	return c
}

// Backend returns the resolved backend.
func (c *Counter) Backend() Backend { return c.backend }

// CountTokens estimates the token count of a text for a model.
// Empty input returns 0.
func (c *Counter) CountTokens(text, model string) (int, error) {
	if text == "" {
		return 0, nil
	}

	switch c.backend {
	case BackendExternal:
		n, err := c.external.CountTokens(text, model)
		if err != nil {
			c.logger.Warn("external token counter failed, falling back to tiktoken",
				zap.String("model", model), zap.Error(err))
			return c.countWithTiktoken(text, model)
		}
		return n, nil
	case BackendEstimator:
		return estimateTokens(text), nil
	default:
		return c.countWithTiktoken(text, model)
	}
}

// CountMessages estimates the total token count of a message sequence,
// including per-message role framing and a fixed conversation overhead.
// The result is strictly greater than CountTokens on the concatenated
// content alone. Empty sequences return 0.
func (c *Counter) CountMessages(messages []types.Message, model string) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	switch c.backend {
	case BackendExternal:
		n, err := c.external.CountMessages(messages, model)
		if err != nil {
			c.logger.Warn("external token counter failed, falling back to tiktoken",
				zap.String("model", model), zap.Error(err))
			return c.countMessagesWithTiktoken(messages, model)
		}
		return n, nil
	case BackendEstimator:
		return estimateMessages(messages), nil
	default:
		return c.countMessagesWithTiktoken(messages, model)
	}
}

func (c *Counter) countWithTiktoken(text, model string) (int, error) {
	c.warnForeignFamily(model)

	enc, err := encoderFor(model)
	if err != nil {
		return 0, &types.TokenCountError{Model: model, Cause: err}
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (c *Counter) countMessagesWithTiktoken(messages []types.Message, model string) (int, error) {
	c.warnForeignFamily(model)

	enc, err := encoderFor(model)
	if err != nil {
		return 0, &types.TokenCountError{Model: model, Cause: err}
	}

	total := 0
	for _, msg := range messages {
		// Per-message framing: <|im_start|>role\n ... <|im_end|>\n
		total += messageOverhead
		total += len(enc.Encode(msg.Role, nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
	}
	total += conversationOverhead
	return total, nil
}

// warnForeignFamily surfaces the cross-vendor caveat: tiktoken applied
// to a non-OpenAI model family is an approximation (up to ~12% off for
// Claude), but a count is still produced.
func (c *Counter) warnForeignFamily(model string) {
	if strings.HasPrefix(model, "claude-") {
		c.logger.Warn("using tiktoken for a Claude model, counts are approximate",
			zap.String("model", model))
	}
}

// CountText is a one-shot convenience counter.
func CountText(text, model string) (int, error) {
	return NewCounter().CountTokens(text, model)
}

// CountMessageList is a one-shot convenience counter for messages.
func CountMessageList(messages []types.Message, model string) (int, error) {
	return NewCounter().CountMessages(messages, model)
}
