// Package dispatch implements the send-and-aggregate pipeline: authorize a
// request against the directory, resolve the group to destination chats,
// fan out delivery, and aggregate per-destination outcomes into one result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"relaygate/pkg/logx"
)

// Deliverer sends one text message to one destination chat.
//
// A nil error means delivered. Otherwise the error must be either a
// *RejectedError (per-chat semantic rejection) or a *UnavailableError
// (transport failure). Any other error is treated as a rejection.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Directory is the read-only slice of the directory store the pipeline needs.
type Directory interface {
	Resolve(ctx context.Context, groupName string) ([]int64, error)
	Authorize(ctx context.Context, apiKey, groupName string) (bool, error)
}

// Counters are cumulative process-wide delivery counters, exposed for the
// maintenance summary job.
type Counters struct {
	Delivered uint64
	Rejected  uint64
	Aborted   uint64
}

type Pipeline struct {
	dir     Directory
	sender  Deliverer
	log     logx.Logger
	fanout  int
	maxLen  int

	delivered atomic.Uint64
	rejected  atomic.Uint64
	aborted   atomic.Uint64
}

// Options tunes the pipeline. Zero values pick defaults.
type Options struct {
	// Fanout bounds concurrent deliveries within one request. Default 4.
	Fanout int
	// MaxMessageLength is the validation cap. Default 4096.
	MaxMessageLength int
}

func New(dir Directory, sender Deliverer, log logx.Logger, opts Options) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	fanout := opts.Fanout
	if fanout <= 0 {
		fanout = 4
	}
	maxLen := opts.MaxMessageLength
	if maxLen <= 0 {
		maxLen = 4096
	}
	return &Pipeline{dir: dir, sender: sender, log: log, fanout: fanout, maxLen: maxLen}
}

// MaxMessageLength reports the configured validation cap.
func (p *Pipeline) MaxMessageLength() int { return p.maxLen }

// Snapshot returns the cumulative delivery counters.
func (p *Pipeline) Snapshot() Counters {
	return Counters{
		Delivered: p.delivered.Load(),
		Rejected:  p.rejected.Load(),
		Aborted:   p.aborted.Load(),
	}
}

// Dispatch runs one validated request through authorize → resolve → deliver →
// aggregate.
//
// Error contract:
//   - ErrUnauthorized: key not granted, or the directory could not answer
//     (fail closed, surfaced as 401)
//   - ErrUpstreamUnavailable (wrapped): a delivery hit a transport failure;
//     the whole batch is aborted and partial progress is discarded
//   - other errors: resolution failures, surfaced as opaque 500s
func (p *Pipeline) Dispatch(ctx context.Context, req Request) (*Result, error) {
	ok, err := p.dir.Authorize(ctx, req.APIKey, req.GroupName)
	if err != nil {
		// Fail closed: a directory outage must not let messages through.
		p.log.Warn("authorization query failed", logx.String("group", req.GroupName), logx.Err(err))
		return nil, ErrUnauthorized
	}
	if !ok {
		return nil, ErrUnauthorized
	}

	chatIDs, err := p.dir.Resolve(ctx, req.GroupName)
	if err != nil {
		return nil, fmt.Errorf("resolve group %q: %w", req.GroupName, err)
	}

	if len(chatIDs) == 0 {
		p.log.Info("group has no destinations", logx.String("group", req.GroupName))
		return &Result{Status: StatusEmpty, SentTo: []string{}, TotalTargets: 0}, nil
	}

	outcomes, err := p.deliverAll(ctx, chatIDs, req.Message)
	if err != nil {
		p.aborted.Add(1)
		p.log.Error("dispatch aborted", logx.String("group", req.GroupName), logx.Int("targets", len(chatIDs)), logx.Err(err))
		return nil, err
	}

	return p.aggregate(req.GroupName, chatIDs, outcomes), nil
}

// deliverAll fans out one delivery per destination with bounded concurrency.
// The first UnavailableError cancels the remaining attempts and fails the
// whole batch.
func (p *Pipeline) deliverAll(ctx context.Context, chatIDs []int64, text string) ([]error, error) {
	outcomes := make([]error, len(chatIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fanout)

	for i, chatID := range chatIDs {
		g.Go(func() error {
			err := p.sender.Deliver(gctx, chatID, text)

			var unavail *UnavailableError
			if errors.As(err, &unavail) {
				return fmt.Errorf("%w: chat %d: %v", ErrUpstreamUnavailable, chatID, unavail.Cause)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Either the whole batch is being aborted (another attempt hit
				// an unavailable upstream) or the caller went away. Propagate;
				// nothing is recorded for this slot.
				return err
			}

			mu.Lock()
			outcomes[i] = err
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// aggregate folds per-destination outcomes into the response envelope,
// preserving resolution order.
func (p *Pipeline) aggregate(groupName string, chatIDs []int64, outcomes []error) *Result {
	res := &Result{
		SentTo:       []string{},
		TotalTargets: len(chatIDs),
	}

	for i, chatID := range chatIDs {
		id := strconv.FormatInt(chatID, 10)
		err := outcomes[i]
		if err == nil {
			res.SentTo = append(res.SentTo, id)
			continue
		}

		reason := "internal delivery error"
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			reason = rejected.Reason
		}
		res.Failed = append(res.Failed, Failure{ChatID: id, Reason: reason})
		p.log.Warn("delivery rejected", logx.String("group", groupName), logx.String("chat_id", id), logx.String("reason", reason))
	}

	p.delivered.Add(uint64(len(res.SentTo)))
	p.rejected.Add(uint64(len(res.Failed)))

	switch {
	case len(res.Failed) == 0:
		res.Status = StatusSuccess
	case len(res.SentTo) > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusFailed
	}
	return res
}
