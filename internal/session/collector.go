package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/event"
	"github.com/hoangnm/dailyquiz/internal/score"
)

var (
	questionsAsked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dailyquiz_questions_asked_total",
		Help: "Number of question sessions opened.",
	})
	answersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailyquiz_answers_processed_total",
		Help: "Answer events by outcome.",
	}, []string{"outcome"})
)

// QuestionSource resolves the question active on a given day.
type QuestionSource interface {
	FindForDay(ctx context.Context, day string) (*domain.Question, error)
}

// AnswerStore persists individual submissions and answers the
// has-answered-today pre-check.
type AnswerStore interface {
	SaveAnswer(ctx context.Context, req score.SaveAnswerRequest) error
	HasAnswered(ctx context.Context, userID, day string) (bool, error)
}

// Scorekeeper applies scoreboard deltas for a graded session.
type Scorekeeper interface {
	Award(ctx context.Context, summary domain.Summary, delta decimal.Decimal) error
}

// Presenter is the chat surface the collector talks to. PresentQuestion
// returns an opaque message handle that is passed back with the summary.
type Presenter interface {
	PresentQuestion(ctx context.Context, channelID string, q domain.Question, number int64, deadline time.Time) (string, error)
	PresentSummary(ctx context.Context, channelID, messageID string, s domain.Summary) error
}

type CollectorConfig struct {
	Registry  *Registry
	Questions QuestionSource
	Store     AnswerStore
	Scores    Scorekeeper
	Presenter Presenter
	EventBus  *event.Bus

	// Window is how long a question accepts answers. Delta is the score
	// awarded per correct user.
	Window time.Duration
	Delta  decimal.Decimal

	// Now is overridable for tests.
	Now func() time.Time
}

// Collector drives the timed window between presenting a question and closing
// it. Per open session it runs a single event-loop goroutine; user answers
// and the deadline arrive as messages on the same channel, so responses are
// processed strictly one at a time in arrival order.
type Collector struct {
	registry  *Registry
	questions QuestionSource
	store     AnswerStore
	scores    Scorekeeper
	presenter Presenter
	eb        *event.Bus

	window time.Duration
	delta  decimal.Decimal
	now    func() time.Time

	mu   sync.Mutex
	runs map[string]*run
}

func NewCollector(c CollectorConfig) *Collector {
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Collector{
		registry:  c.Registry,
		questions: c.Questions,
		store:     c.Store,
		scores:    c.Scores,
		presenter: c.Presenter,
		eb:        c.EventBus,
		window:    c.Window,
		delta:     c.Delta,
		now:       c.Now,
		runs:      make(map[string]*run),
	}
}

type run struct {
	session *Session
	events  chan any
	done    chan struct{}

	// messageID is set after presentation succeeded; the loop may read it
	// concurrently when an early close races the presenter.
	mu        sync.Mutex
	messageID string
}

func (r *run) setMessageID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageID = id
}

func (r *run) getMessageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageID
}

type answerMsg struct {
	userID   string
	username string
	selected []string
	reply    chan answerReply
}

type answerReply struct {
	correct bool
	err     error
}

type closeMsg struct {
	reason string
	reply  chan domain.Summary // nil for the deadline timer
}

type abortMsg struct {
	reply chan struct{}
}

// Start opens a session for today's question in the given channel, presents
// it, and returns without blocking for the answer window. The deadline is
// scheduled as a message into the session's own event channel.
func (c *Collector) Start(ctx context.Context, channelID string) (*Session, error) {
	day := c.now().Format(domain.DayFormat)
	q, err := c.questions.FindForDay(ctx, day)
	if err != nil {
		return nil, err
	}

	sess, err := c.registry.Open(channelID, *q, c.now(), c.window)
	if err != nil {
		return nil, err
	}

	r := &run{
		session: sess,
		events:  make(chan any),
		done:    make(chan struct{}),
	}

	// The loop must be live before the question is shown: a client can
	// answer the instant the prompt renders.
	c.mu.Lock()
	c.runs[channelID] = r
	c.mu.Unlock()
	go c.loop(context.WithoutCancel(ctx), channelID, r)

	messageID, err := c.presenter.PresentQuestion(ctx, channelID, *q, sess.Number(), sess.Deadline())
	if err != nil {
		// Nothing was shown; tear the session down so the channel is free
		// for a retry.
		c.abort(r)
		return nil, errors.Internal(err)
	}
	r.setMessageID(messageID)

	time.AfterFunc(c.window, func() {
		select {
		case r.events <- closeMsg{reason: "deadline"}:
		case <-r.done:
		}
	})

	questionsAsked.Inc()
	slog.InfoContext(ctx, "collector: question opened",
		"channel", channelID,
		"question", q.ID,
		"number", sess.Number(),
		"deadline", sess.Deadline(),
	)

	return sess, nil
}

// OnAnswer routes one user interaction into the session's event loop and
// waits for the verdict. It fails with CodeFailedPrecondition when no session
// is open, CodeAlreadyExists on a repeat answer, CodeInvalidArgument on a
// malformed selection.
func (c *Collector) OnAnswer(ctx context.Context, channelID, userID, username string, selected []string) (bool, error) {
	c.mu.Lock()
	r, ok := c.runs[channelID]
	c.mu.Unlock()
	if !ok {
		return false, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no open question in channel %s", channelID))
	}

	msg := answerMsg{
		userID:   userID,
		username: username,
		selected: selected,
		reply:    make(chan answerReply, 1),
	}

	select {
	case r.events <- msg:
	case <-r.done:
		return false, sessionClosedErr(r.session)
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case rep := <-msg.reply:
		return rep.correct, rep.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// CloseNow finalizes the channel's session ahead of the deadline (manual
// "end" trigger, or everyone answered). Closing is idempotent: once the
// session is finalized the cached summary is returned as-is.
func (c *Collector) CloseNow(ctx context.Context, channelID string) (domain.Summary, error) {
	c.mu.Lock()
	r, ok := c.runs[channelID]
	c.mu.Unlock()
	if !ok {
		sess, found := c.registry.Get(channelID)
		if !found {
			return domain.Summary{}, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("no question session in channel %s", channelID))
		}
		if summary, done := sess.Summary(); done {
			return summary, nil
		}
		return domain.Summary{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no question session in channel %s", channelID))
	}

	msg := closeMsg{reason: "manual", reply: make(chan domain.Summary, 1)}

	select {
	case r.events <- msg:
	case <-r.done:
		if summary, done := r.session.Summary(); done {
			return summary, nil
		}
		return domain.Summary{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no question session in channel %s", channelID))
	case <-ctx.Done():
		return domain.Summary{}, ctx.Err()
	}

	select {
	case summary := <-msg.reply:
		return summary, nil
	case <-ctx.Done():
		return domain.Summary{}, ctx.Err()
	}
}

// HasAnsweredToday is the persisted duplicate-answer pre-check, consulted by
// the presentation layer before it shows the question to a user.
func (c *Collector) HasAnsweredToday(ctx context.Context, userID string) (bool, error) {
	return c.store.HasAnswered(ctx, userID, c.now().Format(domain.DayFormat))
}

// loop is the session's cooperative event loop: the only goroutine that
// mutates session responses. It exits after finalization.
func (c *Collector) loop(ctx context.Context, channelID string, r *run) {
	defer func() {
		c.mu.Lock()
		if c.runs[channelID] == r {
			delete(c.runs, channelID)
		}
		c.mu.Unlock()
		close(r.done)
	}()

	for ev := range r.events {
		switch msg := ev.(type) {
		case answerMsg:
			correct, err := c.handleAnswer(ctx, r, msg)
			msg.reply <- answerReply{correct: correct, err: err}
		case abortMsg:
			r.session.Close(c.now())
			msg.reply <- struct{}{}
			return
		case closeMsg:
			summary := c.finalize(ctx, channelID, r, msg.reason)
			if msg.reply != nil {
				msg.reply <- summary
			}
			return
		}
	}
}

// abort closes the session without finalization side effects: no grading, no
// scoring, no summary. Used when presentation failed and nothing was shown.
func (c *Collector) abort(r *run) {
	msg := abortMsg{reply: make(chan struct{})}
	select {
	case r.events <- msg:
		<-msg.reply
	case <-r.done:
	}
}

// handleAnswer runs validate -> persist -> mutate -> acknowledge. The
// in-memory mutation happens only after the write succeeded, so a failed
// persistence leaves the session untouched and the user may try again.
func (c *Collector) handleAnswer(ctx context.Context, r *run, msg answerMsg) (bool, error) {
	sess := r.session

	if err := sess.Check(msg.userID, msg.selected); err != nil {
		answersProcessed.WithLabelValues("rejected").Inc()
		return false, err
	}

	now := c.now()
	err := c.store.SaveAnswer(ctx, score.SaveAnswerRequest{
		UserID:     msg.userID,
		Username:   msg.username,
		QuestionID: sess.Question().ID,
		Selected:   msg.selected,
		SubmitTime: now,
	})
	if errors.IsCode(err, errors.CodeAlreadyExists) {
		// Persisted backstop caught an answer from an earlier process or a
		// concurrent surface; treat exactly like the in-session guard.
		answersProcessed.WithLabelValues("rejected").Inc()
		return false, err
	}
	if err != nil {
		answersProcessed.WithLabelValues("failed").Inc()
		slog.ErrorContext(ctx, "collector: persist answer failed",
			"channel", sess.ChannelID(),
			"user", msg.userID,
			"error", err,
		)
		return false, errors.Internal(err)
	}

	correct, err := sess.Record(msg.userID, msg.username, msg.selected, now)
	if err != nil {
		return false, err
	}

	answersProcessed.WithLabelValues("recorded").Inc()
	return correct, nil
}

// finalize performs the OPEN->CLOSED transition side effects exactly once:
// scoring, the session.closed event, and the summary message. Zero recorded
// responses still produce (and present) an empty summary.
func (c *Collector) finalize(ctx context.Context, channelID string, r *run, reason string) domain.Summary {
	sess := r.session

	closed, first := sess.Close(c.now())
	if !first {
		if summary, ok := sess.Summary(); ok {
			return summary
		}
	}

	summary := score.Grade(closed)

	if first {
		if err := c.scores.Award(ctx, summary, c.delta); err != nil {
			// Close runs at most once, so increments that failed here are
			// dropped for this session; this log is the audit trail.
			slog.ErrorContext(ctx, "collector: award scores failed",
				"channel", channelID,
				"session", closed.SessionID,
				"error", err,
			)
		}

		c.eb.Publish(ctx, domain.EventSessionClosed{Summary: summary})

		if err := c.presenter.PresentSummary(ctx, channelID, r.getMessageID(), summary); err != nil {
			slog.ErrorContext(ctx, "collector: present summary failed",
				"channel", channelID,
				"session", closed.SessionID,
				"error", err,
			)
		}

		slog.InfoContext(ctx, "collector: question closed",
			"channel", channelID,
			"number", closed.Number,
			"reason", reason,
			"correct", summary.CorrectCount,
			"incorrect", summary.IncorrectCount,
		)
	}

	sess.SetSummary(summary)
	return summary
}

func sessionClosedErr(s *Session) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("question #%d is closed", s.Number()))
}
