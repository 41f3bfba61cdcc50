package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps a Redis projection of the scoreboard: a ZSET with the
// authoritative cumulative totals (overwritten, never incremented, so replays
// cannot drift) plus a hash of last-seen display names.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.ApplyScoreUpdate(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

type TopRequest struct {
	Limit int
}

// Top returns at most Limit entries, strictly descending by score.
func (s *Service) Top(ctx context.Context, req TopRequest) (*domain.Leaderboard, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.scoresKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard is empty"))
	}

	userIDs := make([]string, 0, len(res))
	for _, z := range res {
		userIDs = append(userIDs, z.Member.(string))
	}
	names, err := s.redis.HMGet(ctx, s.namesKey(), userIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("get usernames: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		username := userIDs[i]
		if name, ok := names[i].(string); ok && name != "" {
			username = name
		}
		entries = append(entries, domain.LeaderboardEntry{
			UserID:   userIDs[i],
			Username: username,
			Score:    z.Score,
		})
	}

	return &domain.Leaderboard{
		Entries:   entries,
		UpdatedAt: time.Now(),
	}, nil
}

// ApplyScoreUpdate overwrites the user's total in the projection and
// schedules a leaderboard.updated publication.
func (s *Service) ApplyScoreUpdate(ctx context.Context, e domain.EventScoreUpdated) error {
	entry := e.Entry

	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, s.scoresKey(), redis.Z{
		Score:  entry.Score.InexactFloat64(),
		Member: entry.UserID,
	})
	pipe.HSet(ctx, s.namesKey(), entry.UserID, entry.Username)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublish(ctx, entry)
}

// schedulePublish coalesces bursts of score updates (a closing session awards
// many users at once) into a single leaderboard.updated event per interval.
func (s *Service) schedulePublish(ctx context.Context, entry domain.ScoreboardEntry) error {
	ok, err := s.redis.SetNX(ctx, s.publishKey(), entry.UpdateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publish(ctx)
}

func (s *Service) publish(ctx context.Context) error {
	l, err := s.Top(ctx, TopRequest{Limit: 10})
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	return nil
}

func (s *Service) scoresKey() string {
	return s.prefix + ":scoreboard"
}

func (s *Service) namesKey() string {
	return s.prefix + ":scoreboard:names"
}

func (s *Service) publishKey() string {
	return s.prefix + ":scoreboard:published"
}
