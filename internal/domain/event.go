package domain

const (
	EventNameSessionClosed      = "session.closed"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventSessionClosed is published once per session, by the first closer.
type EventSessionClosed struct {
	Summary Summary
}

func (EventSessionClosed) Name() string { return EventNameSessionClosed }

// EventScoreUpdated is published after a user's cumulative score changed.
type EventScoreUpdated struct {
	Entry ScoreboardEntry
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
