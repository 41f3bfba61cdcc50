package session

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/score"
)

// Registry owns the live question sessions, one per channel at most. It is
// process-wide in-memory state: a restart drops open sessions and the next
// question simply opens a fresh one.
type Registry struct {
	mu       sync.Mutex
	seq      int64
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Open creates an OPEN session for the channel. It fails with
// CodeAlreadyExists while another session for the same channel is still open;
// a closed predecessor is replaced.
func (r *Registry) Open(channelID string, q domain.Question, now time.Time, window time.Duration) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[channelID]; ok && prev.State() == StateOpen {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("a question is already open in channel %s", channelID))
	}

	r.seq++
	s := &Session{
		id:        uuid.NewString(),
		channelID: channelID,
		question:  q,
		number:    r.seq,
		openedAt:  now,
		deadline:  now.Add(window),
		state:     StateOpen,
		responses: make(map[string]domain.Response),
	}
	r.sessions[channelID] = s
	return s, nil
}

// Get returns the channel's current session, open or closed.
func (r *Registry) Get(channelID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[channelID]
	return s, ok
}

type State int

const (
	StateOpen State = iota
	StateClosed
)

// Session is the live, time-boxed period during which one question accepts
// responses. All mutation goes through the collector's event loop, but the
// struct stays internally locked so closing races (deadline vs manual end)
// and read paths stay safe.
type Session struct {
	mu        sync.Mutex
	id        string
	channelID string
	question  domain.Question
	number    int64
	openedAt  time.Time
	deadline  time.Time
	state     State
	order     []string
	responses map[string]domain.Response
	closed    *domain.ClosedSession
	summary   *domain.Summary
}

func (s *Session) ID() string                { return s.id }
func (s *Session) ChannelID() string         { return s.channelID }
func (s *Session) Question() domain.Question { return s.question }
func (s *Session) Number() int64             { return s.number }
func (s *Session) Deadline() time.Time       { return s.deadline }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Check validates a submission without mutating anything. The collector calls
// it before persisting, so a store failure never leaves session state behind.
func (s *Session) Check(userID string, selected []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question #%d is closed", s.number))
	}
	if _, ok := s.responses[userID]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("user %s already answered question #%d", userID, s.number))
	}
	if len(selected) == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("selected answers must not be empty"))
	}
	for _, sel := range selected {
		if !slices.Contains(s.question.Answers, sel) {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("%q is not an option of question #%d", sel, s.number))
		}
	}

	return nil
}

// Record stores the response and reports whether it exactly matches the
// correct-answer set. Callers must have passed Check for the same user first;
// Record re-verifies the invariants that could have changed in between.
func (s *Session) Record(userID, username string, selected []string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return false, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question #%d is closed", s.number))
	}
	if _, ok := s.responses[userID]; ok {
		return false, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("user %s already answered question #%d", userID, s.number))
	}

	s.order = append(s.order, userID)
	s.responses[userID] = domain.Response{
		UserID:      userID,
		Username:    username,
		Selected:    selected,
		SubmittedAt: at,
	}

	return score.EqualSets(selected, s.question.CorrectAnswers), nil
}

// Close transitions OPEN -> CLOSED. The first caller wins and gets
// first=true; it alone runs finalization side effects. Every later call
// returns the identical ClosedSession with first=false.
func (s *Session) Close(now time.Time) (domain.ClosedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed != nil {
		return *s.closed, false
	}

	responses := make([]domain.Response, 0, len(s.order))
	for _, userID := range s.order {
		responses = append(responses, s.responses[userID])
	}

	s.state = StateClosed
	s.closed = &domain.ClosedSession{
		SessionID: s.id,
		ChannelID: s.channelID,
		Question:  s.question,
		Number:    s.number,
		OpenedAt:  s.openedAt,
		ClosedAt:  now,
		Responses: responses,
	}

	return *s.closed, true
}

// SetSummary caches the emitted summary so repeated close requests observe
// the same result.
func (s *Session) SetSummary(summary domain.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &summary
}

func (s *Session) Summary() (domain.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return domain.Summary{}, false
	}
	return *s.summary, true
}
