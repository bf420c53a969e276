// Package classifier sends one rendered request to an LLM provider and turns
// the reply into a schema-checked RawJudgment.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/RecipeSorter/internal/llm"
	"github.com/TobiSchelling/RecipeSorter/internal/prompt"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// DefaultTimeout bounds a Classify call when the caller passes no timeout.
const DefaultTimeout = 30 * time.Second

// Error is a failed classification attempt. Kind is one of
// recipe.KindTimeout, recipe.KindServiceError or recipe.KindMalformedResponse.
type Error struct {
	Kind recipe.FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from a classifier error.
func KindOf(err error) (recipe.FailureKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// Gateway makes single classification attempts. It never retries.
type Gateway struct {
	provider llm.Provider
	opts     llm.Options
	logger   *zap.Logger
}

// New creates a gateway over provider.
func New(provider llm.Provider, opts llm.Options, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.JSONMode = true
	return &Gateway{provider: provider, opts: opts, logger: logger}
}

type reply struct {
	text string
	err  error
}

// Classify sends req and waits at most timeout for the reply. A reply that
// arrives after the deadline is discarded.
func (g *Gateway) Classify(ctx context.Context, req prompt.Request, timeout time.Duration) (recipe.RawJudgment, error) {
	if g.provider == nil {
		return recipe.RawJudgment{}, &Error{Kind: recipe.KindServiceError, Err: errors.New("no LLM provider configured")}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		text, err := g.provider.Generate(callCtx, req.System, req.User, g.opts)
		done <- reply{text: text, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-callCtx.Done():
		return recipe.RawJudgment{}, contextError(callCtx.Err(), timeout)
	}

	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) {
			return recipe.RawJudgment{}, contextError(context.DeadlineExceeded, timeout)
		}
		return recipe.RawJudgment{}, &Error{Kind: recipe.KindServiceError, Err: r.err}
	}

	raw, err := Parse(r.text)
	if err != nil {
		g.logger.Debug("malformed classifier reply",
			zap.String("item", req.ItemID),
			zap.String("fingerprint", req.Fingerprint),
			zap.Error(err))
		return recipe.RawJudgment{}, &Error{Kind: recipe.KindMalformedResponse, Err: err}
	}
	return raw, nil
}

func contextError(err error, timeout time.Duration) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: recipe.KindTimeout, Err: fmt.Errorf("no reply within %s: %w", timeout, err)}
	}
	return &Error{Kind: recipe.KindServiceError, Err: err}
}
