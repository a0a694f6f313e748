package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"relaygate/pkg/logx"
)

type fakeDirectory struct {
	groups  map[string][]int64
	grants  map[string]map[string]bool // apiKey -> group -> granted
	downErr error
}

func (d *fakeDirectory) Resolve(_ context.Context, groupName string) ([]int64, error) {
	if d.downErr != nil {
		return nil, d.downErr
	}
	return d.groups[groupName], nil
}

func (d *fakeDirectory) Authorize(_ context.Context, apiKey, groupName string) (bool, error) {
	if d.downErr != nil {
		return false, d.downErr
	}
	return d.grants[apiKey][groupName], nil
}

// fakeDeliverer returns a scripted error per chat id and counts attempts.
type fakeDeliverer struct {
	mu       sync.Mutex
	outcomes map[int64]error
	attempts map[int64]int
}

func newFakeDeliverer(outcomes map[int64]error) *fakeDeliverer {
	return &fakeDeliverer{outcomes: outcomes, attempts: map[int64]int{}}
}

func (f *fakeDeliverer) Deliver(ctx context.Context, chatID int64, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.attempts[chatID]++
	err := f.outcomes[chatID]
	f.mu.Unlock()
	return err
}

func (f *fakeDeliverer) attemptCount(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[chatID]
}

func opsDirectory(chats ...int64) *fakeDirectory {
	return &fakeDirectory{
		groups: map[string][]int64{"ops": chats},
		grants: map[string]map[string]bool{"K1": {"ops": true}},
	}
}

var opsRequest = Request{GroupName: "ops", Message: "deploy done", APIKey: "K1"}

func TestDispatchAllDelivered(t *testing.T) {
	t.Parallel()
	dir := opsDirectory(111, 222)
	sender := newFakeDeliverer(nil)
	p := New(dir, sender, logx.Nop(), Options{})

	res, err := p.Dispatch(context.Background(), opsRequest)
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %s, want %s", res.Status, StatusSuccess)
	}
	if want := []string{"111", "222"}; !reflect.DeepEqual(res.SentTo, want) {
		t.Fatalf("SentTo = %v, want %v", res.SentTo, want)
	}
	if res.Failed != nil {
		t.Fatalf("Failed = %v, want nil", res.Failed)
	}
	if res.TotalTargets != 2 {
		t.Fatalf("TotalTargets = %d, want 2", res.TotalTargets)
	}
}

func TestDispatchPartial(t *testing.T) {
	t.Parallel()
	dir := opsDirectory(111, 222, 333)
	sender := newFakeDeliverer(map[int64]error{
		222: &RejectedError{Reason: "bot was blocked"},
	})
	p := New(dir, sender, logx.Nop(), Options{})

	res, err := p.Dispatch(context.Background(), opsRequest)
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if res.Status != StatusPartial {
		t.Fatalf("Status = %s, want %s", res.Status, StatusPartial)
	}
	if want := []string{"111", "333"}; !reflect.DeepEqual(res.SentTo, want) {
		t.Fatalf("SentTo = %v, want %v", res.SentTo, want)
	}
	if len(res.Failed) != 1 || res.Failed[0].ChatID != "222" || res.Failed[0].Reason != "bot was blocked" {
		t.Fatalf("unexpected Failed: %+v", res.Failed)
	}
	if len(res.SentTo)+len(res.Failed) != res.TotalTargets {
		t.Fatalf("invariant violated: %d + %d != %d", len(res.SentTo), len(res.Failed), res.TotalTargets)
	}
}

func TestDispatchAllRejected(t *testing.T) {
	t.Parallel()
	dir := opsDirectory(111, 222)
	sender := newFakeDeliverer(map[int64]error{
		111: &RejectedError{Reason: "chat not found"},
		222: &RejectedError{Reason: "chat not found"},
	})
	p := New(dir, sender, logx.Nop(), Options{})

	res, err := p.Dispatch(context.Background(), opsRequest)
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("Status = %s, want %s", res.Status, StatusFailed)
	}
	if len(res.SentTo) != 0 {
		t.Fatalf("SentTo = %v, want empty", res.SentTo)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("len(Failed) = %d, want 2", len(res.Failed))
	}
}

func TestDispatchEmptyGroup(t *testing.T) {
	t.Parallel()
	dir := opsDirectory()
	sender := newFakeDeliverer(nil)
	p := New(dir, sender, logx.Nop(), Options{})

	res, err := p.Dispatch(context.Background(), opsRequest)
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if res.Status != StatusEmpty {
		t.Fatalf("Status = %s, want %s", res.Status, StatusEmpty)
	}
	if res.TotalTargets != 0 || len(res.SentTo) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDispatchUnknownGroupBehavesAsEmpty(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{
		groups: map[string][]int64{},
		grants: map[string]map[string]bool{"K1": {"ghost": true}},
	}
	p := New(dir, newFakeDeliverer(nil), logx.Nop(), Options{})

	res, err := p.Dispatch(context.Background(), Request{GroupName: "ghost", Message: "hi", APIKey: "K1"})
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if res.Status != StatusEmpty {
		t.Fatalf("Status = %s, want %s", res.Status, StatusEmpty)
	}
}

func TestDispatchUnauthorized(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{
		groups: map[string][]int64{"ops": {111}, "dev": {222}},
		grants: map[string]map[string]bool{"K1": {"ops": true}},
	}
	sender := newFakeDeliverer(nil)
	p := New(dir, sender, logx.Nop(), Options{})

	// K1 is valid for "ops" but not "dev".
	_, err := p.Dispatch(context.Background(), Request{GroupName: "dev", Message: "hi", APIKey: "K1"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if n := sender.attemptCount(222); n != 0 {
		t.Fatalf("expected no delivery attempts, got %d", n)
	}
}

func TestDispatchStoreErrorFailsClosed(t *testing.T) {
	t.Parallel()
	dir := opsDirectory(111)
	dir.downErr = fmt.Errorf("database is locked")
	p := New(dir, newFakeDeliverer(nil), logx.Nop(), Options{})

	_, err := p.Dispatch(context.Background(), opsRequest)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized (fail closed)", err)
	}
}

func TestDispatchUpstreamAbortDiscardsPartialProgress(t *testing.T) {
	t.Parallel()
	dir := opsDirectory(111, 222, 333)
	sender := newFakeDeliverer(map[int64]error{
		333: &UnavailableError{Cause: fmt.Errorf("connection refused")},
	})
	// Sequential fan-out so 111 and 222 are already delivered when 333 fails.
	p := New(dir, sender, logx.Nop(), Options{Fanout: 1})

	res, err := p.Dispatch(context.Background(), opsRequest)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if res != nil {
		t.Fatalf("expected nil result on upstream abort, got %+v", res)
	}
	// 111 was attempted (and delivered upstream) before the abort; the
	// response still reports nothing. This pins the observed contract:
	// partial progress is discarded from the response envelope.
	if n := sender.attemptCount(111); n != 1 {
		t.Fatalf("expected chat 111 attempted once, got %d", n)
	}
}

func TestDispatchUpstreamAbortCancelsRemaining(t *testing.T) {
	t.Parallel()
	dir := opsDirectory(111, 222, 333, 444)
	sender := newFakeDeliverer(map[int64]error{
		111: &UnavailableError{Cause: fmt.Errorf("timeout")},
	})
	p := New(dir, sender, logx.Nop(), Options{Fanout: 1})

	_, err := p.Dispatch(context.Background(), opsRequest)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	// With fanout 1 the abort happens on the first attempt; later
	// destinations must see a canceled context and never reach the sender.
	for _, id := range []int64{222, 333, 444} {
		if n := sender.attemptCount(id); n != 0 {
			t.Fatalf("chat %d attempted %d times after abort", id, n)
		}
	}
}

func TestDispatchNoDeduplication(t *testing.T) {
	t.Parallel()
	dir := opsDirectory(111)
	sender := newFakeDeliverer(nil)
	p := New(dir, sender, logx.Nop(), Options{})

	for i := 0; i < 2; i++ {
		if _, err := p.Dispatch(context.Background(), opsRequest); err != nil {
			t.Fatalf("Dispatch #%d error: %v", i+1, err)
		}
	}
	// Identical requests are delivered independently: two sends, two messages.
	if n := sender.attemptCount(111); n != 2 {
		t.Fatalf("expected 2 deliveries for repeated request, got %d", n)
	}
}

func TestDispatchCountersAccumulate(t *testing.T) {
	t.Parallel()
	dir := opsDirectory(111, 222)
	sender := newFakeDeliverer(map[int64]error{
		222: &RejectedError{Reason: "kicked"},
	})
	p := New(dir, sender, logx.Nop(), Options{})

	if _, err := p.Dispatch(context.Background(), opsRequest); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	c := p.Snapshot()
	if c.Delivered != 1 || c.Rejected != 1 || c.Aborted != 0 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}
