package llm

import (
	"context"
	"errors"

	chatmodel "ResearchChat/module/chat/model"
	rmodel "ResearchChat/module/research/model"
	"ResearchChat/tools/errs"
)

// Decider answers whether the latest user message is in scope and needs
// research. The answer is advisory.
type Decider interface {
	DecideScope(ctx context.Context, window []chatmodel.Turn) (bool, error)
}

// Researcher produces a structured research report. Errors are one of
// errs.ErrRateLimited, errs.ErrUpstreamConfig, errs.ErrUpstreamMalformed
// or errs.ErrUpstream.
type Researcher interface {
	Research(ctx context.Context, prompt string, window []chatmodel.Turn) (*rmodel.Report, error)
}

type Capability interface {
	Decider
	Researcher
}

// CallRecorder receives one record per provider call.
type CallRecorder interface {
	RecordCall(ctx context.Context, log *chatmodel.APICallLog) error
}

// Retry hints carried on failed bot messages.
const (
	HintRetryLater   = "retry_later"
	HintNotRetryable = "not_retryable"
	HintRetry        = "retry"
)

// RetryHint maps a capability error to a client hint.
func RetryHint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errs.ErrRateLimited):
		return HintRetryLater
	case errors.Is(err, errs.ErrUpstreamConfig):
		return HintNotRetryable
	default:
		return HintRetry
	}
}
