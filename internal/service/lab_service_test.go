package service

import (
	"context"
	"cyberrange_backend/internal/config"
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/util"
	"sync"
	"testing"
	"time"
)

func newLabFixture(t *testing.T) (*LabService, *fakeLabStore, *fakeSessionStore, *fakeProvisioner, *fakeLedger, *fakeClock) {
	t.Helper()
	labs := newFakeLabStore()
	sessions := newFakeSessionStore()
	prov := &fakeProvisioner{}
	ledger := &fakeLedger{}
	clock := newFakeClock()
	cfg := &config.Config{}
	cfg.Engine.DefaultLabBudget = 2 * time.Hour
	cfg.Engine.ProvisionTimeout = time.Second

	lab := &model.Lab{Title: "buffer overflow basics", Image: "cyberrange/bof:1", BudgetMinutes: 120, IsPublished: true}
	lab.ID = 1
	labs.add(lab)

	return NewLabService(labs, sessions, prov, ledger, clock, cfg), labs, sessions, prov, ledger, clock
}

func TestStartProvisionsAndArmsBudget(t *testing.T) {
	svc, _, _, _, ledger, clock := newLabFixture(t)

	session, err := svc.Start(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.State != model.SessionRunning {
		t.Errorf("state = %s, want running", session.State)
	}
	if session.ResourceHandle == "" {
		t.Error("running session has no resource handle")
	}
	if want := clock.Now().Add(2 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", session.ExpiresAt, want)
	}

	types := ledger.eventTypes()
	if len(types) < 2 || types[0] != model.EventLabStarted || types[1] != model.EventLabRunning {
		t.Errorf("ledger events = %v, want [lab.started lab.running ...]", types)
	}
}

func TestStartRejectsSecondLiveSession(t *testing.T) {
	svc, _, _, _, _, _ := newLabFixture(t)

	if _, err := svc.Start(context.Background(), 7, 1); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := svc.Start(context.Background(), 7, 1)
	if !util.IsKind(err, util.KindConflict) {
		t.Errorf("second Start error = %v, want conflict", err)
	}
}

func TestStartConcurrentDuplicatesYieldOneSession(t *testing.T) {
	svc, _, sessions, prov, _, _ := newLabFixture(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	started, conflicted := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Start(context.Background(), 7, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case util.IsKind(err, util.KindConflict):
				conflicted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if started != 1 || conflicted != 7 {
		t.Errorf("started=%d conflicted=%d, want 1 and 7", started, conflicted)
	}
	if prov.allocations != 1 {
		t.Errorf("allocations = %d, want 1", prov.allocations)
	}
	live, _ := sessions.FindLive(7, 1)
	if live == nil {
		t.Fatal("no live session after concurrent starts")
	}
}

func TestStartProvisioningFailureMarksFailed(t *testing.T) {
	svc, _, sessions, prov, _, _ := newLabFixture(t)
	prov.allocateErr = context.DeadlineExceeded

	_, err := svc.Start(context.Background(), 7, 1)
	if !util.IsKind(err, util.KindProvisioningTimeout) {
		t.Fatalf("error = %v, want provisioning_timeout", err)
	}

	live, _ := sessions.FindLive(7, 1)
	if live != nil {
		t.Errorf("failed session still live: %+v", live)
	}

	// The failed state is terminal; the user can immediately start over.
	prov.allocateErr = nil
	if _, err := svc.Start(context.Background(), 7, 1); err != nil {
		t.Errorf("Start after failure: %v", err)
	}
}

func TestResetRestoresFullBudget(t *testing.T) {
	svc, _, _, _, _, clock := newLabFixture(t)

	session, err := svc.Start(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(time.Hour)
	reset, err := svc.Reset(context.Background(), session.ID, 7, model.Student)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if want := clock.Now().Add(2 * time.Hour); !reset.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want full budget from reset moment %v", reset.ExpiresAt, want)
	}
	if reset.ResetCount != 1 {
		t.Errorf("resetCount = %d, want 1", reset.ResetCount)
	}
	if reset.State != model.SessionRunning {
		t.Errorf("state = %s, want running", reset.State)
	}
}

func TestResetRequiresRunning(t *testing.T) {
	svc, _, _, _, _, _ := newLabFixture(t)

	session, _ := svc.Start(context.Background(), 7, 1)
	if _, err := svc.Stop(context.Background(), session.ID, 7, model.Student); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, err := svc.Reset(context.Background(), session.ID, 7, model.Student)
	if !util.IsKind(err, util.KindState) {
		t.Errorf("reset of stopped session error = %v, want state error", err)
	}
}

func TestResetBackendFailureKeepsSessionRunning(t *testing.T) {
	svc, _, sessions, prov, _, _ := newLabFixture(t)

	session, _ := svc.Start(context.Background(), 7, 1)
	handle := session.ResourceHandle
	expiry := session.ExpiresAt

	prov.resetErr = errBackendDown
	if _, err := svc.Reset(context.Background(), session.ID, 7, model.Student); err == nil {
		t.Fatal("Reset with failing backend returned no error")
	}

	after, _ := sessions.FindByID(session.ID)
	if after.State != model.SessionRunning {
		t.Errorf("state = %s, want running after failed reset", after.State)
	}
	if after.ResourceHandle != handle {
		t.Errorf("handle changed from %s to %s on failed reset", handle, after.ResourceHandle)
	}
	if !after.ExpiresAt.Equal(expiry) {
		t.Errorf("deadline moved on failed reset: %v -> %v", expiry, after.ExpiresAt)
	}
	if after.ResetCount != 0 {
		t.Errorf("resetCount = %d, want 0", after.ResetCount)
	}

	// Retry once the backend recovers.
	prov.resetErr = nil
	if _, err := svc.Reset(context.Background(), session.ID, 7, model.Student); err != nil {
		t.Errorf("retry Reset: %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	svc, _, _, prov, _, _ := newLabFixture(t)

	session, _ := svc.Start(context.Background(), 7, 1)
	first, err := svc.Stop(context.Background(), session.ID, 7, model.Student)
	if err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if first.State != model.SessionStopped {
		t.Errorf("state = %s, want stopped", first.State)
	}

	second, err := svc.Stop(context.Background(), session.ID, 7, model.Student)
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if second.State != model.SessionStopped {
		t.Errorf("second stop state = %s, want stopped", second.State)
	}
	if prov.deallocCount() != 1 {
		t.Errorf("deallocations = %d, want exactly 1", prov.deallocCount())
	}
}

func TestStopRequiresOwnerOrAdmin(t *testing.T) {
	svc, _, _, _, _, _ := newLabFixture(t)

	session, _ := svc.Start(context.Background(), 7, 1)

	_, err := svc.Stop(context.Background(), session.ID, 8, model.Student)
	if !util.IsKind(err, util.KindAuthorization) {
		t.Errorf("stranger stop error = %v, want authorization", err)
	}

	if _, err := svc.Stop(context.Background(), session.ID, 99, model.Instructor); err != nil {
		t.Errorf("instructor stop: %v", err)
	}
}

func TestExpireAtDeadline(t *testing.T) {
	svc, _, sessions, prov, _, clock := newLabFixture(t)

	session, _ := svc.Start(context.Background(), 7, 1)
	clock.Advance(2*time.Hour + time.Second)
	svc.Expire(session.ID)

	after, _ := sessions.FindByID(session.ID)
	if after.State != model.SessionExpired {
		t.Errorf("state = %s, want expired", after.State)
	}
	if prov.deallocCount() != 1 {
		t.Errorf("deallocations = %d, want 1", prov.deallocCount())
	}
}

func TestExpireBeforeDeadlineIsNoOp(t *testing.T) {
	svc, _, sessions, _, _, clock := newLabFixture(t)

	session, _ := svc.Start(context.Background(), 7, 1)
	clock.Advance(time.Hour)
	svc.Expire(session.ID)

	after, _ := sessions.FindByID(session.ID)
	if after.State != model.SessionRunning {
		t.Errorf("state = %s, want running before deadline", after.State)
	}
}

func TestStopExpireRaceSettlesOnce(t *testing.T) {
	svc, _, sessions, prov, _, clock := newLabFixture(t)

	session, _ := svc.Start(context.Background(), 7, 1)
	clock.Advance(2*time.Hour + time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.Expire(session.ID)
	}()
	go func() {
		defer wg.Done()
		if _, err := svc.Stop(context.Background(), session.ID, 7, model.Student); err != nil {
			t.Errorf("Stop during race: %v", err)
		}
	}()
	wg.Wait()

	after, _ := sessions.FindByID(session.ID)
	if !after.State.Terminal() {
		t.Fatalf("state = %s, want terminal", after.State)
	}
	if after.State != model.SessionStopped && after.State != model.SessionExpired {
		t.Errorf("state = %s, want stopped or expired", after.State)
	}
	if prov.deallocCount() != 1 {
		t.Errorf("deallocations = %d, want exactly 1", prov.deallocCount())
	}
}

func TestHeartbeatNeverExtendsDeadline(t *testing.T) {
	svc, _, sessions, _, _, clock := newLabFixture(t)

	session, _ := svc.Start(context.Background(), 7, 1)
	expiry := session.ExpiresAt

	clock.Advance(30 * time.Minute)
	if _, err := svc.Heartbeat(session.ID, 7); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	after, _ := sessions.FindByID(session.ID)
	if !after.ExpiresAt.Equal(expiry) {
		t.Errorf("heartbeat moved the deadline: %v -> %v", expiry, after.ExpiresAt)
	}
	if !after.LastSeenAt.Equal(clock.Now()) {
		t.Errorf("lastSeenAt = %v, want %v", after.LastSeenAt, clock.Now())
	}
}

func TestSweepOverdueFinalizesLostSessions(t *testing.T) {
	svc, _, sessions, _, _, clock := newLabFixture(t)

	first, _ := svc.Start(context.Background(), 7, 1)
	clock.Advance(3 * time.Hour)

	if err := svc.SweepOverdue(); err != nil {
		t.Fatalf("SweepOverdue: %v", err)
	}
	after, _ := sessions.FindByID(first.ID)
	if after.State != model.SessionExpired {
		t.Errorf("state = %s, want expired after sweep", after.State)
	}
}
