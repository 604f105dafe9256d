package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/archive"
	"github.com/JustinCarm001/MLAApp-sub001/internal/clocksync"
	"github.com/JustinCarm001/MLAApp-sub001/internal/config"
	"github.com/JustinCarm001/MLAApp-sub001/internal/position"
)

func testProto() config.Protocol {
	return config.Protocol{
		GuardInterval:   3 * time.Second,
		ReadinessWindow: 15 * time.Second,
		AckTimeout:      1 * time.Second,
		DrainTimeout:    10 * time.Second,
		HeartbeatPeriod: 5 * time.Second,
		SyncWindow:      5 * time.Second,
		SyncMinSamples:  3,
		ChunkQueueLimit: 8,
		MaxCameras:      6,
		MinCameras:      2,
	}
}

func newTestSession(t *testing.T, clock clockwork.Clock, rec archive.Recorder, count int) *Session {
	t.Helper()
	plan, err := position.ResolvePlan(position.ArenaStandard, count)
	if err != nil {
		t.Fatalf("resolve plan: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, "s1", "ABC123", plan, count, testProto(), clock, rec, zap.NewNop(), nil)
}

// join registers a camera and returns its outbox and the join reply.
func join(t *testing.T, s *Session, cameraID string) (chan Push, JoinReply) {
	t.Helper()
	out := make(chan Push, 32)
	reply := make(chan JoinReply, 1)
	s.Inbox() <- Join{CameraID: cameraID, Outbox: out, Reply: reply}
	select {
	case jr := <-reply:
		return out, jr
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for join reply")
		return nil, JoinReply{}
	}
}

func getView(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

// waitForPush drains a participant outbox until a push of the wanted kind
// arrives, so interleaved event pushes never flake the assertion.
func waitForPush(t *testing.T, ch <-chan Push, kind PushKind, within time.Duration) Push {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed before %s push", kind)
			}
			if p.Kind == kind {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s push", kind)
		}
	}
}

// syncSample builds a round trip with the given true offset and symmetric
// one-way delay, both ms.
func syncSample(offset, oneWay int64) clocksync.Sample {
	const base = 5_000_000
	return clocksync.Sample{
		T0: base,
		T1: base + offset + oneWay,
		T2: base + offset + oneWay + 1,
		T3: base + 2*oneWay + 1,
	}
}

// makeReady completes the clock exchange for a camera and reports ready.
func makeReady(t *testing.T, s *Session, cameraID string, offset int64) {
	t.Helper()
	for _, d := range []int64{5, 9, 7} {
		s.Inbox() <- SyncReport{CameraID: cameraID, Sample: syncSample(offset, d)}
	}
	reply := make(chan error, 1)
	s.Inbox() <- ReportReady{CameraID: cameraID, Reply: reply}
	select {
	case err := <-reply:
		if err != nil {
			t.Fatalf("report ready: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for ready reply")
	}
}

func TestSession_JoinAssignsPriorityPositions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, archive.NewMemory(), 2)

	_, jr1 := join(t, s, "cam1")
	if jr1.Err != nil {
		t.Fatalf("join cam1: %v", jr1.Err)
	}
	if jr1.Position != position.CenterIceElevated {
		t.Fatalf("cam1: want center_ice_elevated, got %s", jr1.Position)
	}

	_, jr2 := join(t, s, "cam2")
	if jr2.Position != position.CornerDiagonal1 {
		t.Fatalf("cam2: want corner_diagonal_1, got %s", jr2.Position)
	}
	if len(jr2.Plan.Positions) != 2 {
		t.Fatalf("plan should carry 2 positions, got %d", len(jr2.Plan.Positions))
	}
}

func TestSession_LastSlotRace_ExactlyOneWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, archive.NewMemory(), 2)

	join(t, s, "cam1")

	// Two joins racing for the last slot arrive on the inbox in some order;
	// the actor serializes them, so exactly one wins.
	out2 := make(chan Push, 32)
	out3 := make(chan Push, 32)
	r2 := make(chan JoinReply, 1)
	r3 := make(chan JoinReply, 1)
	s.Inbox() <- Join{CameraID: "cam2", Outbox: out2, Reply: r2}
	s.Inbox() <- Join{CameraID: "cam3", Outbox: out3, Reply: r3}

	jr2, jr3 := <-r2, <-r3
	if jr2.Err != nil {
		t.Fatalf("first-processed join should win, got %v", jr2.Err)
	}
	if jr3.Err != ErrSessionFull {
		t.Fatalf("loser should get ErrSessionFull, got %v", jr3.Err)
	}
}

func TestSession_LeaveFreesSlot_AndIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, archive.NewMemory(), 2)

	join(t, s, "cam1")
	join(t, s, "cam2")

	s.Inbox() <- Leave{CameraID: "cam1"}
	s.Inbox() <- Leave{CameraID: "cam1"} // no-op

	_, jr3 := join(t, s, "cam3")
	if jr3.Err != nil {
		t.Fatalf("vacated slot should be joinable: %v", jr3.Err)
	}
	if jr3.Position != position.CenterIceElevated {
		t.Fatalf("cam3 should inherit the vacated slot, got %s", jr3.Position)
	}

	v := getView(t, s)
	if len(v.Participants) != 2 {
		t.Fatalf("want 2 participants, got %d", len(v.Participants))
	}
}

func TestSession_EmptyAfterLeave_Closes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := archive.NewMemory()
	s := newTestSession(t, clock, rec, 2)

	join(t, s, "cam1")
	s.Inbox() <- Leave{CameraID: "cam1"}

	waitForArchivedSession(t, rec, string(StateClosed))
}

func TestSession_EmptyAfterLeave_ClosesInAnyState(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := archive.NewMemory()
	s := newTestSession(t, clock, rec, 2)

	out1, _ := join(t, s, "cam1")
	join(t, s, "cam2")
	makeReady(t, s, "cam1", 0)
	makeReady(t, s, "cam2", 0)

	reply := make(chan error, 1)
	s.Inbox() <- OperatorStart{Reply: reply}
	if err := <-reply; err != nil {
		t.Fatalf("operator start: %v", err)
	}
	waitForPush(t, out1, PushStartRecording, time.Second)

	// Both cameras walk away while armed. The session must close rather
	// than let the ack deadline march an empty roster into recording, where
	// it would hold its goroutines and join code forever.
	s.Inbox() <- Leave{CameraID: "cam1"}
	s.Inbox() <- Leave{CameraID: "cam2"}

	waitForArchivedSession(t, rec, string(StateClosed))
}

func TestSession_SyncTimeout_AbortsAllParticipants(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := archive.NewMemory()
	s := newTestSession(t, clock, rec, 4)

	outs := make(map[string]chan Push)
	for _, id := range []string{"cam1", "cam2", "cam3", "cam4"} {
		out, jr := join(t, s, id)
		if jr.Err != nil {
			t.Fatalf("join %s: %v", id, jr.Err)
		}
		outs[id] = out
	}

	startReply := make(chan error, 1)
	s.Inbox() <- OperatorStart{Reply: startReply}
	if err := <-startReply; err != nil {
		t.Fatalf("operator start: %v", err)
	}

	// Three report ready, cam4 never does.
	makeReady(t, s, "cam1", 0)
	makeReady(t, s, "cam2", 40)
	makeReady(t, s, "cam3", -25)

	clock.BlockUntil(1)
	clock.Advance(testProto().ReadinessWindow)

	// Every participant, ready or not, learns why the session died.
	for id, out := range outs {
		p := waitForPush(t, out, PushAborted, time.Second)
		if p.Reason != ReasonSyncTimeout {
			t.Fatalf("%s: want SyncTimeout, got %s", id, p.Reason)
		}
	}

	waitForArchivedSession(t, rec, string(StateAborted))
}

func TestSession_StartBarrier_DistinctLocalInstants(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, archive.NewMemory(), 2)

	out1, _ := join(t, s, "cam1")
	out2, _ := join(t, s, "cam2")

	makeReady(t, s, "cam1", 0)
	makeReady(t, s, "cam2", 100)

	startReply := make(chan error, 1)
	s.Inbox() <- OperatorStart{Reply: startReply}
	if err := <-startReply; err != nil {
		t.Fatalf("operator start: %v", err)
	}

	// Everyone was already ready, so arming is immediate.
	p1 := waitForPush(t, out1, PushStartRecording, time.Second)
	p2 := waitForPush(t, out2, PushStartRecording, time.Second)

	wantServer := clock.Now().Add(testProto().GuardInterval).UnixMilli()
	if p1.LocalStartMs != wantServer {
		t.Fatalf("cam1 (offset 0): want local start %d, got %d", wantServer, p1.LocalStartMs)
	}
	// cam2's clock reads 100ms behind server time, so its local instant for
	// the same T_start is 100ms earlier.
	if p1.LocalStartMs-p2.LocalStartMs != 100 {
		t.Fatalf("local starts should differ by the offset delta, got %d and %d",
			p1.LocalStartMs, p2.LocalStartMs)
	}

	s.Inbox() <- StartAck{CameraID: "cam1"}
	s.Inbox() <- StartAck{CameraID: "cam2"}

	v := getView(t, s)
	if v.State != StateRecording {
		t.Fatalf("want recording after all acks, got %s", v.State)
	}
}

func TestSession_AckTimeout_RecordsAnyway(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, archive.NewMemory(), 2)

	out1, _ := join(t, s, "cam1")
	join(t, s, "cam2")
	makeReady(t, s, "cam1", 0)
	makeReady(t, s, "cam2", 0)

	startReply := make(chan error, 1)
	s.Inbox() <- OperatorStart{Reply: startReply}
	if err := <-startReply; err != nil {
		t.Fatalf("operator start: %v", err)
	}
	waitForPush(t, out1, PushStartRecording, time.Second)

	// Only cam1 acks. The ack timeout must not keep the session armed.
	s.Inbox() <- StartAck{CameraID: "cam1"}
	getView(t, s) // settle

	clock.BlockUntil(1)
	clock.Advance(testProto().AckTimeout)

	deadline := time.After(time.Second)
	for {
		v := getView(t, s)
		if v.State == StateRecording {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session stuck in %s after ack timeout", v.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSession_Dropout_MarksDisconnected_KeepsSlot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, archive.NewMemory(), 2)

	join(t, s, "cam1")
	join(t, s, "cam2")

	period := testProto().HeartbeatPeriod
	// cam1 keeps heartbeating; cam2 goes silent past 3x the period.
	for i := 0; i < 4; i++ {
		clock.BlockUntil(1)
		clock.Advance(period)
		s.Inbox() <- Heartbeat{CameraID: "cam1", At: clock.Now()}
		getView(t, s) // let the sweep and heartbeat land
	}

	// The sweep tick crosses a goroutine boundary; poll until it lands.
	var statuses map[string]ParticipantStatus
	positions := map[string]position.Position{}
	deadline := time.After(time.Second)
	for {
		v := getView(t, s)
		statuses = map[string]ParticipantStatus{}
		for _, p := range v.Participants {
			statuses[p.CameraID] = p.Status
			positions[p.CameraID] = p.Position
		}
		if statuses["cam2"] == StatusDisconnected {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("cam2 should be disconnected, got %s", statuses["cam2"])
		case <-time.After(10 * time.Millisecond):
		}
	}
	if statuses["cam1"] == StatusDisconnected {
		t.Fatalf("cam1 heartbeated and must not be marked disconnected")
	}

	// Resumed heartbeats are a reconnection, not a rejoin: same position.
	s.Inbox() <- Heartbeat{CameraID: "cam2", At: clock.Now()}
	v := getView(t, s)
	for _, p := range v.Participants {
		if p.CameraID == "cam2" {
			if p.Status == StatusDisconnected {
				t.Fatalf("cam2 should be restored after heartbeat")
			}
			if p.Position != positions["cam2"] {
				t.Fatalf("cam2 position changed across reconnect: %s -> %s",
					positions["cam2"], p.Position)
			}
		}
	}
}

func TestSession_OperatorAbort_NotifiesWithReason(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := archive.NewMemory()
	s := newTestSession(t, clock, rec, 2)

	out1, _ := join(t, s, "cam1")

	reply := make(chan error, 1)
	s.Inbox() <- OperatorAbort{Reason: ReasonOperatorAbort, Reply: reply}
	if err := <-reply; err != nil {
		t.Fatalf("abort: %v", err)
	}

	p := waitForPush(t, out1, PushAborted, time.Second)
	if p.Reason != ReasonOperatorAbort {
		t.Fatalf("want OperatorAbort reason, got %s", p.Reason)
	}
	waitForArchivedSession(t, rec, string(StateAborted))
}

func TestSession_StartRequiresOpenState(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, archive.NewMemory(), 2)

	// No participants yet: refuse to synchronize an empty session.
	reply := make(chan error, 1)
	s.Inbox() <- OperatorStart{Reply: reply}
	if err := <-reply; err != ErrInvalidState {
		t.Fatalf("want ErrInvalidState on empty session, got %v", err)
	}
}

func TestSession_ReadyWithoutSamples_IsRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, archive.NewMemory(), 2)

	join(t, s, "cam1")

	reply := make(chan error, 1)
	s.Inbox() <- ReportReady{CameraID: "cam1", Reply: reply}
	if err := <-reply; err != clocksync.ErrInsufficientSamples {
		t.Fatalf("want ErrInsufficientSamples, got %v", err)
	}
}

func waitForArchivedSession(t *testing.T, rec *archive.Memory, wantState string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, s := range rec.Sessions() {
			if s.FinalState == wantState {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("no archived session record with state %s", wantState)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
