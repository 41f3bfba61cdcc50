package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/hoangnm/dailyquiz/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Username string `json:"username"`
		Score    string `json:"score"`
	}
)

// PublishSessionClosed pushes the session summary to the channel's pub/sub
// stream so panel and chat consumers outside this process see results too.
func (a *API) PublishSessionClosed(ctx context.Context, e domain.EventSessionClosed) error {
	return a.publishNotification(ctx,
		fmt.Sprintf("%s:channel:%s", a.prefix, e.Summary.ChannelID),
		e.Name(), e.Summary)
}

// PublishLeaderboardUpdated fans the refreshed leaderboard out to the
// per-user notification channels.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := Leaderboard{
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Username: entry.Username,
			Score:    strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range l.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx,
				fmt.Sprintf("%s:user:%s", a.prefix, entry.UserID),
				e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
