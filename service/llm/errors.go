package llm

import (
	"context"
	"errors"
	"net/http"

	"ResearchChat/tools/errs"

	"github.com/sashabaranov/go-openai"
)

// classify turns a go-openai error into a typed capability error using the
// HTTP status, never the message text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrRateLimited) || errors.Is(err, errs.ErrUpstreamConfig) ||
		errors.Is(err, errs.ErrUpstreamMalformed) || errors.Is(err, errs.ErrUpstream) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return errs.ErrRateLimited.WrapMsg("provider", "status", status, "err", err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return errs.ErrUpstreamConfig.WrapMsg("provider", "status", status, "err", err)
	case errors.Is(err, context.DeadlineExceeded):
		return errs.ErrUpstream.WrapMsg("provider timeout", "err", err)
	default:
		return errs.ErrUpstream.WrapMsg("provider", "status", status, "err", err)
	}
}
