package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/event"
	"github.com/hoangnm/dailyquiz/internal/leaderboard"
)

func scoreUpdate(userID, username string, total float64) domain.EventScoreUpdated {
	return domain.EventScoreUpdated{
		Entry: domain.ScoreboardEntry{
			UserID:     userID,
			Username:   username,
			Score:      decimal.NewFromFloat(total),
			UpdateTime: time.Now(),
		},
	}
}

func TestService_TopIsDescendingAndLimited(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u1", "Alice", 1)))
	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u2", "Bob", 3)))
	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u3", "Cara", 2)))
	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u4", "Dan", 0.5)))

	l, err := s.Top(ctx, leaderboard.TopRequest{Limit: 3})
	require.NoError(t, err)

	require.Len(t, l.Entries, 3, "limit bounds the result")
	require.Equal(t, []domain.LeaderboardEntry{
		{UserID: "u2", Username: "Bob", Score: 3},
		{UserID: "u3", Username: "Cara", Score: 2},
		{UserID: "u1", Username: "Alice", Score: 1},
	}, l.Entries)
}

func TestService_LastSeenUsernameWins(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u1", "Alice", 1)))
	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u1", "Alicia", 2)))

	l, err := s.Top(ctx, leaderboard.TopRequest{Limit: 10})
	require.NoError(t, err)

	require.Len(t, l.Entries, 1, "a renamed user stays a single entry")
	require.Equal(t, "Alicia", l.Entries[0].Username)
	require.Equal(t, float64(2), l.Entries[0].Score)
}

func TestService_TopEmpty(t *testing.T) {
	s := makeService(t)

	_, err := s.Top(context.Background(), leaderboard.TopRequest{Limit: 10})
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestService_PublishIsDebounced(t *testing.T) {
	eb := event.NewBus()

	var mu sync.Mutex
	var published []domain.EventLeaderboardUpdated
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		published = append(published, e.(domain.EventLeaderboardUpdated))
		mu.Unlock()
		return nil
	})

	s := makeService(t, withEventBus(eb))
	ctx := context.Background()

	// A closing session awards several users back to back; only one
	// leaderboard.updated should go out per interval.
	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u1", "Alice", 1)))
	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u2", "Bob", 1)))
	require.NoError(t, s.ApplyScoreUpdate(ctx, scoreUpdate("u3", "Cara", 1)))

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1, "bursts collapse into a single publication")
}

func makeService(t *testing.T, opts ...option) *leaderboard.Service {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type option func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) option {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
