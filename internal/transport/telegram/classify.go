package telegram

import (
	"context"
	"errors"
	"net"
	"net/url"

	tele "gopkg.in/telebot.v4"

	"relaygate/internal/dispatch"
)

// classify maps a raw telebot send error onto the dispatch package's tagged
// error types:
//
//   - nil stays nil (delivered)
//   - timeouts, network errors and platform 5xx become UnavailableError,
//     which aborts the whole batch
//   - everything else (blocked bot, chat not found, kicked, ...) becomes a
//     per-chat RejectedError
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &dispatch.UnavailableError{Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &dispatch.UnavailableError{Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &dispatch.UnavailableError{Cause: err}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			return &dispatch.UnavailableError{Cause: err}
		}
		reason := apiErr.Description
		if reason == "" {
			reason = apiErr.Message
		}
		if reason == "" {
			reason = "rejected by platform"
		}
		return &dispatch.RejectedError{Reason: reason}
	}

	// telebot wraps transport errors from its internal HTTP client; anything
	// not recognized above is treated as a rejection so a single odd chat
	// cannot abort the batch.
	return &dispatch.RejectedError{Reason: err.Error()}
}

// classifyWait maps a rate limiter wait failure. The limiter reports an
// exhausted deadline as a plain error rather than wrapping the context's,
// so consult the context first; either way this is a timing condition,
// never a platform rejection.
func classifyWait(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return classify(ctxErr)
	}
	return &dispatch.UnavailableError{Cause: err}
}
