package pidtab_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"vtunerd/internal/logging"
	"vtunerd/internal/mailbox"
	"vtunerd/internal/message"
	"vtunerd/internal/pidtab"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	msgs []message.Message
	err  error
}

func (r *recordingSubmitter) Submit(_ context.Context, msg message.Message, expectResponse bool) (*message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if expectResponse {
		return nil, errors.New("pid lists must be fire-and-forget")
	}
	if r.err != nil {
		return nil, r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil, nil
}

func (r *recordingSubmitter) sent() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Message(nil), r.msgs...)
}

func newTracker(capacity int) (*pidtab.Tracker, *recordingSubmitter) {
	out := &recordingSubmitter{}
	return pidtab.NewTracker(pidtab.NewTable(capacity), out, logging.NewNop()), out
}

func TestStartFeedIsIdempotent(t *testing.T) {
	tracker, out := newTracker(8)
	ctx := context.Background()

	if err := tracker.StartFeed(ctx, 0x100, pidtab.FeedTS); err != nil {
		t.Fatalf("StartFeed returned error: %v", err)
	}
	if err := tracker.StartFeed(ctx, 0x100, pidtab.FeedSection); err != nil {
		t.Fatalf("StartFeed returned error: %v", err)
	}

	msgs := out.sent()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(msgs))
	}
	if msgs[0].Kind != message.KindPIDList {
		t.Fatalf("unexpected kind %s", msgs[0].Kind)
	}
	if got := msgs[0].PIDs(); !reflect.DeepEqual(got, []uint16{0x100}) {
		t.Fatalf("unexpected pid list %v", got)
	}
	if msgs[0].Body.PIDList[1] != 0 {
		t.Fatalf("expected zero terminator after last entry, got %#x", msgs[0].Body.PIDList[1])
	}
}

func TestStopFeedOfUnknownPIDSendsNothing(t *testing.T) {
	tracker, out := newTracker(8)
	if err := tracker.StopFeed(context.Background(), 0x200); err != nil {
		t.Fatalf("StopFeed returned error: %v", err)
	}
	if n := len(out.sent()); n != 0 {
		t.Fatalf("expected no notification, got %d", n)
	}
}

func TestSnapshotIsCompactedInSlotOrder(t *testing.T) {
	tracker, out := newTracker(4)
	ctx := context.Background()
	for _, pid := range []uint16{0x10, 0x11, 0x12} {
		if err := tracker.StartFeed(ctx, pid, pidtab.FeedTS); err != nil {
			t.Fatalf("StartFeed(%#x) returned error: %v", pid, err)
		}
	}
	if err := tracker.StopFeed(ctx, 0x11); err != nil {
		t.Fatalf("StopFeed returned error: %v", err)
	}
	// The freed slot is reused.
	if err := tracker.StartFeed(ctx, 0x13, pidtab.FeedTS); err != nil {
		t.Fatalf("StartFeed returned error: %v", err)
	}

	msgs := out.sent()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 notifications, got %d", len(msgs))
	}
	if got := msgs[3].PIDs(); !reflect.DeepEqual(got, []uint16{0x10, 0x12}) {
		t.Fatalf("after removal: got %v", got)
	}
	if got := msgs[4].PIDs(); !reflect.DeepEqual(got, []uint16{0x10, 0x13, 0x12}) {
		t.Fatalf("after reuse: got %v", got)
	}
}

func TestPIDZeroIsDistinguishableFromTerminator(t *testing.T) {
	tracker, out := newTracker(4)
	if err := tracker.StartFeed(context.Background(), 0, pidtab.FeedSection); err != nil {
		t.Fatalf("StartFeed returned error: %v", err)
	}
	msgs := out.sent()
	if len(msgs) != 1 || msgs[0].Body.PIDCount != 1 {
		t.Fatalf("expected one entry for pid 0, got %+v", msgs)
	}
}

func TestTableFullIsSoftFailure(t *testing.T) {
	tracker, out := newTracker(2)
	ctx := context.Background()
	for _, pid := range []uint16{1, 2, 3} {
		if err := tracker.StartFeed(ctx, pid, pidtab.FeedTS); err != nil {
			t.Fatalf("StartFeed(%d) returned error: %v", pid, err)
		}
	}
	if tracker.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", tracker.Dropped())
	}
	if n := len(out.sent()); n != 2 {
		t.Fatalf("expected 2 notifications, got %d", n)
	}
	if got := tracker.Snapshot().PIDs; !reflect.DeepEqual(got, []uint16{1, 2}) {
		t.Fatalf("unexpected table %v", got)
	}
}

func TestUnsupportedFeedsAreRejected(t *testing.T) {
	tracker, out := newTracker(4)
	ctx := context.Background()
	for _, kind := range []pidtab.FeedKind{pidtab.FeedPES, pidtab.FeedOther} {
		err := tracker.StartFeed(ctx, 0x40, kind)
		if !errors.Is(err, pidtab.ErrUnsupportedFeed) {
			t.Fatalf("kind %s: expected ErrUnsupportedFeed, got %v", kind, err)
		}
	}
	if err := tracker.StartFeed(ctx, pidtab.MaxPID+1, pidtab.FeedTS); !errors.Is(err, pidtab.ErrInvalidPID) {
		t.Fatalf("expected ErrInvalidPID, got %v", err)
	}
	if len(out.sent()) != 0 {
		t.Fatal("rejected feeds must not notify")
	}
	if len(tracker.Snapshot().PIDs) != 0 {
		t.Fatalf("rejected feeds must not mutate the table, got %v", tracker.Snapshot().PIDs)
	}
}

func TestNoConsumerIsBenignAndResyncDelivers(t *testing.T) {
	out := &recordingSubmitter{err: mailbox.ErrNoConsumer}
	tracker := pidtab.NewTracker(pidtab.NewTable(4), out, nil)
	ctx := context.Background()
	if err := tracker.StartFeed(ctx, 0x20, pidtab.FeedTS); err != nil {
		t.Fatalf("StartFeed returned error without consumer: %v", err)
	}

	out.mu.Lock()
	out.err = nil
	out.mu.Unlock()
	if err := tracker.Resync(ctx); err != nil {
		t.Fatalf("Resync returned error: %v", err)
	}
	msgs := out.sent()
	if len(msgs) != 1 || !reflect.DeepEqual(msgs[0].PIDs(), []uint16{0x20}) {
		t.Fatalf("expected resync to deliver the current set, got %+v", msgs)
	}
}

func TestConcurrentFeedsEndWithFinalState(t *testing.T) {
	tracker, out := newTracker(pidtab.MaxCapacity)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(pid uint16) {
			defer wg.Done()
			_ = tracker.StartFeed(ctx, pid, pidtab.FeedTS)
			if pid%2 == 0 {
				_ = tracker.StopFeed(ctx, pid)
			}
		}(uint16(0x100 + i))
	}
	wg.Wait()

	msgs := out.sent()
	if len(msgs) == 0 {
		t.Fatal("expected notifications")
	}
	last := msgs[len(msgs)-1].PIDs()
	want := tracker.Snapshot().PIDs
	if !reflect.DeepEqual(last, want) {
		t.Fatalf("last snapshot %v does not match final table %v", last, want)
	}
	if len(want) != 10 {
		t.Fatalf("expected 10 pids left, got %d", len(want))
	}
}

func TestSnapshotMessageOfFullTable(t *testing.T) {
	table := pidtab.NewTable(pidtab.MaxCapacity)
	for pid := uint16(1); pid <= pidtab.MaxCapacity; pid++ {
		if _, err := table.Add(pid); err != nil {
			t.Fatalf("Add(%d) returned error: %v", pid, err)
		}
	}
	msg := table.Snapshot().Message()
	if int(msg.Body.PIDCount) != pidtab.MaxCapacity {
		t.Fatalf("PIDCount = %d", msg.Body.PIDCount)
	}
	if msg.Body.PIDList[pidtab.MaxCapacity] != 0 {
		t.Fatal("expected trailing zero after a full table")
	}
	if _, err := table.Add(999); !errors.Is(err, pidtab.ErrTableFull) {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}
}

func TestTableRejectsOutOfRangePIDs(t *testing.T) {
	table := pidtab.NewTable(4)
	for _, pid := range []uint16{pidtab.MaxPID + 1, 0xFFFF} {
		changed, err := table.Add(pid)
		if changed || !errors.Is(err, pidtab.ErrInvalidPID) {
			t.Fatalf("Add(%#x) = %v, %v; want ErrInvalidPID", pid, changed, err)
		}
	}
	if table.Len() != 0 || table.Version() != 0 {
		t.Fatalf("rejected pids must not mutate the table (len %d, version %d)", table.Len(), table.Version())
	}
	if changed, err := table.Add(pidtab.MaxPID); !changed || err != nil {
		t.Fatalf("Add(MaxPID) = %v, %v", changed, err)
	}
}

func TestPendingTracksUndeliveredChanges(t *testing.T) {
	out := &recordingSubmitter{}
	tracker := pidtab.NewTracker(pidtab.NewTable(4), out, nil)
	ctx := context.Background()
	if tracker.Pending() {
		t.Fatal("a fresh tracker has nothing to deliver")
	}
	if err := tracker.StartFeed(ctx, 0x30, pidtab.FeedTS); err != nil {
		t.Fatalf("StartFeed returned error: %v", err)
	}
	if tracker.Pending() {
		t.Fatal("a delivered change must not be pending")
	}

	out.mu.Lock()
	out.err = mailbox.ErrNoConsumer
	out.mu.Unlock()
	if err := tracker.StopFeed(ctx, 0x30); err != nil {
		t.Fatalf("StopFeed returned error without consumer: %v", err)
	}
	if !tracker.Pending() {
		t.Fatal("a dropped change to an empty set must stay pending")
	}

	out.mu.Lock()
	out.err = nil
	out.mu.Unlock()
	if err := tracker.Resync(ctx); err != nil {
		t.Fatalf("Resync returned error: %v", err)
	}
	msgs := out.sent()
	if len(msgs) != 2 || len(msgs[1].PIDs()) != 0 || tracker.Pending() {
		t.Fatalf("expected resync to deliver the empty set, got %+v pending=%v", msgs, tracker.Pending())
	}
}
