package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayFormat is the wire and storage format for question days. A question is
// active for exactly one calendar day; time-of-day never participates.
const DayFormat = "2006-01-02"

// Question is a daily trivia question. At most one question exists per day;
// the store enforces uniqueness.
type Question struct {
	ID             int64
	Text           string
	Answers        []string
	CorrectAnswers []string
	Day            string // YYYY-MM-DD
}

// MultiChoice reports whether the question should be rendered as a
// multi-select (two or more correct options).
func (q Question) MultiChoice() bool {
	return len(q.CorrectAnswers) > 1
}

// Response is a single user's recorded answer within a session.
type Response struct {
	UserID      string
	Username    string
	Selected    []string
	SubmittedAt time.Time
}

// ClosedSession is the immutable result of a finished question session.
// Responses preserve arrival order.
type ClosedSession struct {
	SessionID string
	ChannelID string
	Question  Question
	Number    int64
	OpenedAt  time.Time
	ClosedAt  time.Time
	Responses []Response
}

// Participant identifies a user within a summary.
type Participant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Summary is the aggregated outcome of a closed session, ready for
// presentation. Correct and Incorrect keep response arrival order.
type Summary struct {
	SessionID      string        `json:"session_id"`
	ChannelID      string        `json:"channel_id"`
	QuestionID     int64         `json:"question_id"`
	QuestionNumber int64         `json:"question_number"`
	CorrectAnswers []string      `json:"correct_answers"`
	Correct        []Participant `json:"correct"`
	Incorrect      []Participant `json:"incorrect"`
	CorrectCount   int           `json:"correct_count"`
	IncorrectCount int           `json:"incorrect_count"`
}

// ScoreboardEntry is a user's cumulative score. Username holds the last seen
// display name.
type ScoreboardEntry struct {
	UserID     string
	Username   string
	Score      decimal.Decimal
	UpdateTime time.Time
}

// Leaderboard is a descending-by-score view of the scoreboard.
type Leaderboard struct {
	Entries   []LeaderboardEntry
	UpdatedAt time.Time
}

type LeaderboardEntry struct {
	UserID   string
	Username string
	Score    float64
}
