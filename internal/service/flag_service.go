package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/util"
	"cyberrange_backend/pkg/logger"
	"cyberrange_backend/pkg/monitoring"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const leaderboardKey = "ctf:leaderboard"

// ErrTooManyGuesses is returned when a user exceeds the per-minute guess
// budget on a challenge.
var ErrTooManyGuesses = errors.New("too many flag submissions, slow down")

// Submission outcomes.
const (
	FlagAccepted      = "accepted"
	FlagAlreadySolved = "already_solved"
	FlagRejected      = "rejected"
)

// SubmissionResult is the verdict for one flag submission.
type SubmissionResult struct {
	Outcome       string     `json:"outcome"`
	PointsAwarded int        `json:"pointsAwarded"`
	SolvedAt      *time.Time `json:"solvedAt,omitempty"`
	TotalSolves   int        `json:"-"`
}

// FlagService verifies flag submissions and credits points at most once per
// (user, challenge). Correctness of the award-once guarantee rests on the
// store's unique solve index, not on in-process locking, so it holds across
// replicas.
type FlagService struct {
	challenges ChallengeStore
	solves     SolveStore
	points     PointsStore
	ledger     Ledger
	clock      Clock
	redis      *redis.Client

	mu         sync.RWMutex
	guessLimit int
}

func NewFlagService(challenges ChallengeStore, solves SolveStore, points PointsStore, ledger Ledger, clock Clock, rdb *redis.Client, guessLimit int) *FlagService {
	return &FlagService{
		challenges: challenges,
		solves:     solves,
		points:     points,
		ledger:     ledger,
		clock:      clock,
		redis:      rdb,
		guessLimit: guessLimit,
	}
}

// HashFlag normalizes and hashes a plaintext flag for storage.
func HashFlag(flag string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(flag)))
	return hex.EncodeToString(sum[:])
}

// Submit checks a flag against a published challenge. A wrong flag changes
// nothing; a correct one records the solve and credits points exactly once,
// no matter how many submissions race.
func (s *FlagService) Submit(ctx context.Context, userID, challengeID uint, flag string) (*SubmissionResult, error) {
	challenge, err := s.challenges.FindByID(challengeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("challenge %d not found", challengeID)
		}
		return nil, err
	}
	if !challenge.IsPublished {
		return nil, util.NotFoundErr("challenge %d not found", challengeID)
	}

	if err := s.throttle(ctx, userID, challengeID); err != nil {
		monitoring.FlagSubmissions.WithLabelValues("throttled").Inc()
		return nil, err
	}

	guess := HashFlag(flag)
	if subtle.ConstantTimeCompare([]byte(guess), []byte(challenge.FlagHash)) != 1 {
		monitoring.FlagSubmissions.WithLabelValues("rejected").Inc()
		s.record(model.EventFlagRejected, userID, challengeID, nil)
		return &SubmissionResult{Outcome: FlagRejected}, nil
	}

	solve := &model.ChallengeSolve{
		UserID:        userID,
		ChallengeID:   challengeID,
		PointsAwarded: challenge.Points,
		SolvedAt:      s.clock.Now(),
	}
	created, err := s.solves.CreateSolve(solve)
	if err != nil {
		return nil, err
	}
	if !created {
		monitoring.FlagSubmissions.WithLabelValues("duplicate").Inc()
		s.record(model.EventFlagDuplicate, userID, challengeID, nil)
		result := &SubmissionResult{Outcome: FlagAlreadySolved}
		if prior, err := s.solves.FindSolve(userID, challengeID); err == nil && prior != nil {
			result.SolvedAt = &prior.SolvedAt
		}
		return result, nil
	}

	if err := s.points.AddPoints(userID, challenge.Points); err != nil {
		logger.Log.Error("Failed to credit points after solve",
			zap.Uint("user_id", userID), zap.Uint("challenge_id", challengeID), zap.Error(err))
	}
	if s.redis != nil {
		if err := s.redis.ZIncrBy(ctx, leaderboardKey, float64(challenge.Points),
			strconv.FormatUint(uint64(userID), 10)).Err(); err != nil {
			logger.Log.Warn("Leaderboard increment failed", zap.Error(err))
		}
	}

	monitoring.FlagSubmissions.WithLabelValues("accepted").Inc()
	s.record(model.EventFlagAccepted, userID, challengeID, map[string]interface{}{"points": challenge.Points})
	return &SubmissionResult{Outcome: FlagAccepted, PointsAwarded: challenge.Points, SolvedAt: &solve.SolvedAt}, nil
}

// throttle enforces a per-minute guess budget per user per challenge via a
// redis counter with expiry. Open on redis errors: verification must not
// depend on the cache being up.
func (s *FlagService) throttle(ctx context.Context, userID, challengeID uint) error {
	s.mu.RLock()
	limit := s.guessLimit
	s.mu.RUnlock()
	if s.redis == nil || limit <= 0 {
		return nil
	}
	key := fmt.Sprintf("flagguess:%d:%d", userID, challengeID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		logger.Log.Warn("Flag throttle counter unavailable", zap.Error(err))
		return nil
	}
	if count == 1 {
		s.redis.Expire(ctx, key, time.Minute)
	}
	if count > int64(limit) {
		return ErrTooManyGuesses
	}
	return nil
}

// SetGuessLimit tunes the per-minute guess budget at runtime; 0 disables
// the throttle.
func (s *FlagService) SetGuessLimit(limit int) {
	s.mu.Lock()
	s.guessLimit = limit
	s.mu.Unlock()
}

// Leaderboard reads the redis sorted set, falling back to aggregating solve
// rows when redis is empty or down.
func (s *FlagService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if s.redis != nil {
		entries, err := s.redis.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
		if err == nil && len(entries) > 0 {
			out := make([]LeaderboardEntry, 0, len(entries))
			for i, z := range entries {
				id, _ := strconv.ParseUint(z.Member.(string), 10, 64)
				out = append(out, LeaderboardEntry{Rank: i + 1, UserID: uint(id), Points: int(z.Score)})
			}
			return out, nil
		}
		if err != nil {
			logger.Log.Warn("Leaderboard redis read failed, using database", zap.Error(err))
		}
	}

	rows, err := s.solves.Leaderboard(limit)
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		out = append(out, LeaderboardEntry{Rank: i + 1, UserID: row.UserID, Points: row.Points, Solves: row.Solves})
	}
	return out, nil
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank   int  `json:"rank"`
	UserID uint `json:"userId"`
	Points int  `json:"points"`
	Solves int  `json:"solves,omitempty"`
}

func (s *FlagService) record(eventType string, userID, challengeID uint, payload map[string]interface{}) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	s.ledger.Record(model.ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		ActivityID: challengeID,
		Payload:    raw,
		OccurredAt: s.clock.Now(),
	})
}
