package service

import (
	"context"
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/util"
	"sync"
	"testing"
)

func newFlagFixture(t *testing.T) (*FlagService, *fakeChallengeStore, *fakePointsStore, *fakeLedger) {
	t.Helper()
	challenges := newFakeChallengeStore()
	points := newFakePointsStore()
	ledger := &fakeLedger{}
	clock := newFakeClock()

	c := &model.Challenge{
		Title:       "baby rsa",
		Points:      100,
		FlagHash:    HashFlag("CTF{small_exponent}"),
		IsPublished: true,
	}
	c.ID = 1
	challenges.add(c)

	svc := NewFlagService(challenges, challenges, points, ledger, clock, nil, 30)
	return svc, challenges, points, ledger
}

func TestSubmitWrongFlagChangesNothing(t *testing.T) {
	svc, challenges, points, _ := newFlagFixture(t)

	result, err := svc.Submit(context.Background(), 7, 1, "CTF{wrong}")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != FlagRejected {
		t.Errorf("outcome = %s, want rejected", result.Outcome)
	}
	if points.total(7) != 0 {
		t.Errorf("points = %d, want 0", points.total(7))
	}
	if _, err := challenges.FindSolve(7, 1); err == nil {
		t.Error("wrong flag recorded a solve")
	}

	// A later correct submission still succeeds.
	result, err = svc.Submit(context.Background(), 7, 1, "CTF{small_exponent}")
	if err != nil {
		t.Fatalf("Submit after wrong guess: %v", err)
	}
	if result.Outcome != FlagAccepted {
		t.Errorf("outcome = %s, want accepted", result.Outcome)
	}
}

func TestSubmitCorrectFlagAwardsOnce(t *testing.T) {
	svc, _, points, ledger := newFlagFixture(t)

	first, err := svc.Submit(context.Background(), 7, 1, "CTF{small_exponent}")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.Outcome != FlagAccepted || first.PointsAwarded != 100 {
		t.Errorf("first = %+v, want accepted with 100 points", first)
	}

	second, err := svc.Submit(context.Background(), 7, 1, "CTF{small_exponent}")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Outcome != FlagAlreadySolved {
		t.Errorf("second outcome = %s, want already_solved", second.Outcome)
	}
	if second.PointsAwarded != 0 {
		t.Errorf("second awarded %d points, want 0", second.PointsAwarded)
	}
	if points.total(7) != 100 {
		t.Errorf("total points = %d, want exactly 100", points.total(7))
	}

	accepted := 0
	for _, e := range ledger.eventTypes() {
		if e == model.EventFlagAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("flag.accepted events = %d, want 1", accepted)
	}
}

func TestSubmitFlagTrimsWhitespace(t *testing.T) {
	svc, _, _, _ := newFlagFixture(t)

	result, err := svc.Submit(context.Background(), 7, 1, "  CTF{small_exponent}\n")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != FlagAccepted {
		t.Errorf("outcome = %s, want accepted after trimming", result.Outcome)
	}
}

func TestSubmitConcurrentCorrectFlagsAwardOnce(t *testing.T) {
	svc, _, points, _ := newFlagFixture(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[string]int{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Submit(context.Background(), 7, 1, "CTF{small_exponent}")
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			mu.Lock()
			outcomes[result.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if outcomes[FlagAccepted] != 1 {
		t.Errorf("accepted = %d, want exactly 1", outcomes[FlagAccepted])
	}
	if outcomes[FlagAlreadySolved] != 9 {
		t.Errorf("already_solved = %d, want 9", outcomes[FlagAlreadySolved])
	}
	if points.total(7) != 100 {
		t.Errorf("total points = %d, want exactly 100", points.total(7))
	}
}

func TestSubmitUnpublishedChallengeNotFound(t *testing.T) {
	svc, challenges, _, _ := newFlagFixture(t)

	hidden := &model.Challenge{Title: "draft", Points: 50, FlagHash: HashFlag("CTF{draft}")}
	hidden.ID = 2
	challenges.add(hidden)

	_, err := svc.Submit(context.Background(), 7, 2, "CTF{draft}")
	if !util.IsKind(err, util.KindNotFound) {
		t.Errorf("error = %v, want not_found for unpublished challenge", err)
	}
}

func TestLeaderboardFallsBackToStore(t *testing.T) {
	svc, challenges, _, _ := newFlagFixture(t)

	extra := &model.Challenge{Title: "forensics 101", Points: 50, FlagHash: HashFlag("CTF{pcap}"), IsPublished: true}
	extra.ID = 2
	challenges.add(extra)

	svc.Submit(context.Background(), 7, 1, "CTF{small_exponent}")
	svc.Submit(context.Background(), 7, 2, "CTF{pcap}")
	svc.Submit(context.Background(), 8, 2, "CTF{pcap}")

	entries, err := svc.Leaderboard(context.Background(), 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	totals := map[uint]int{}
	for _, e := range entries {
		totals[e.UserID] = e.Points
	}
	if totals[7] != 150 || totals[8] != 50 {
		t.Errorf("totals = %v, want user 7 at 150 and user 8 at 50", totals)
	}
}
