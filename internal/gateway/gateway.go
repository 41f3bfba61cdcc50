package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/leaderboard"
	"github.com/hoangnm/dailyquiz/internal/session"
)

// Collector is the slice of the answer collector the gateway drives.
type Collector interface {
	Start(ctx context.Context, channelID string) (*session.Session, error)
	OnAnswer(ctx context.Context, channelID, userID, username string, selected []string) (bool, error)
	CloseNow(ctx context.Context, channelID string) (domain.Summary, error)
	HasAnsweredToday(ctx context.Context, userID string) (bool, error)
}

// Scoreboard serves the chat `scoreboard` command.
type Scoreboard interface {
	Top(ctx context.Context, req leaderboard.TopRequest) (*domain.Leaderboard, error)
}

type Config struct {
	Scoreboard Scoreboard
}

// Gateway is the chat surface: a WebSocket hub that renders questions and
// summaries to channels and feeds user interactions into the collector. It
// implements session.Presenter.
type Gateway struct {
	scoreboard Scoreboard
	collector  Collector
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func New(c Config) *Gateway {
	return &Gateway{
		scoreboard: c.Scoreboard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// SetCollector breaks the construction cycle: the collector needs the gateway
// as its presenter, the gateway needs the collector for inbound commands.
func (g *Gateway) SetCollector(c Collector) {
	g.collector = c
}

type client struct {
	conn      *websocket.Conn
	channelID string
	userID    string
	username  string

	mu     sync.Mutex
	closed bool
	send   chan outboundMessage
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type answerPayload struct {
	Selected []string `json:"selected"`
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type questionPayload struct {
	MessageID      string    `json:"message_id"`
	QuestionNumber int64     `json:"question_number"`
	Text           string    `json:"text"`
	Options        []string  `json:"options"`
	MultiChoice    bool      `json:"multi_choice"`
	Deadline       time.Time `json:"deadline"`
}

type summaryPayload struct {
	MessageID string         `json:"message_id"`
	Summary   domain.Summary `json:"summary"`
}

type answerResultPayload struct {
	Correct bool `json:"correct"`
}

type scoreboardPayload struct {
	Entries []scoreboardRow `json:"entries"`
}

type scoreboardRow struct {
	Rank     int     `json:"rank"`
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

// ServeWS upgrades the connection and runs the client's read loop.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	userID := r.URL.Query().Get("userId")
	username := r.URL.Query().Get("name")
	if channelID == "" || userID == "" || username == "" {
		http.Error(w, "missing channel, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(r.Context(), "gateway: ws upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:      conn,
		channelID: channelID,
		userID:    userID,
		username:  username,
		send:      make(chan outboundMessage, 16),
	}

	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	go c.writeLoop()
	g.readLoop(r.Context(), c)

	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
	c.shutdown()
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	_ = c.conn.Close()
}

func (g *Gateway) readLoop(ctx context.Context, c *client) {
	defer c.conn.Close()

	for {
		var inbound inboundMessage
		if err := c.conn.ReadJSON(&inbound); err != nil {
			return
		}

		switch inbound.Type {
		case "question":
			g.handleStart(ctx, c)
		case "answer":
			g.handleAnswer(ctx, c, inbound.Payload)
		case "scoreboard":
			g.handleScoreboard(ctx, c)
		case "end":
			g.handleEnd(ctx, c)
		default:
			c.push(outboundMessage{Type: "error", Payload: errorPayload{
				Code:    http.StatusBadRequest,
				Message: "unsupported message type",
			}})
		}
	}
}

func (g *Gateway) handleStart(ctx context.Context, c *client) {
	if _, err := g.collector.Start(ctx, c.channelID); err != nil {
		g.pushError(c, err)
	}
}

func (g *Gateway) handleAnswer(ctx context.Context, c *client, raw json.RawMessage) {
	var payload answerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.push(outboundMessage{Type: "error", Payload: errorPayload{
			Code:    http.StatusBadRequest,
			Message: "invalid answer payload",
		}})
		return
	}

	correct, err := g.collector.OnAnswer(ctx, c.channelID, c.userID, c.username, payload.Selected)
	if err != nil {
		g.pushError(c, err)
		return
	}

	c.push(outboundMessage{Type: "answerResult", Payload: answerResultPayload{Correct: correct}})
}

func (g *Gateway) handleScoreboard(ctx context.Context, c *client) {
	l, err := g.scoreboard.Top(ctx, leaderboard.TopRequest{Limit: 10})
	if err != nil {
		g.pushError(c, err)
		return
	}

	payload := scoreboardPayload{Entries: make([]scoreboardRow, 0, len(l.Entries))}
	for i, e := range l.Entries {
		payload.Entries = append(payload.Entries, scoreboardRow{
			Rank:     i + 1,
			Username: e.Username,
			Score:    e.Score,
		})
	}

	c.push(outboundMessage{Type: "scoreboard", Payload: payload})
}

func (g *Gateway) handleEnd(ctx context.Context, c *client) {
	// The summary broadcast happens through PresentSummary; the requester
	// only needs errors.
	if _, err := g.collector.CloseNow(ctx, c.channelID); err != nil {
		g.pushError(c, err)
	}
}

// PresentQuestion renders the question to every client in the channel except
// users who already answered today (they could not submit anyway) and returns
// the message handle the summary will reference.
func (g *Gateway) PresentQuestion(ctx context.Context, channelID string, q domain.Question, number int64, deadline time.Time) (string, error) {
	messageID := uuid.NewString()
	payload := questionPayload{
		MessageID:      messageID,
		QuestionNumber: number,
		Text:           q.Text,
		Options:        q.Answers,
		MultiChoice:    q.MultiChoice(),
		Deadline:       deadline,
	}

	for _, c := range g.channelClients(channelID) {
		answered, err := g.collector.HasAnsweredToday(ctx, c.userID)
		if err != nil {
			slog.ErrorContext(ctx, "gateway: has-answered pre-check failed",
				"user", c.userID,
				"error", err,
			)
			continue
		}
		if answered {
			c.push(outboundMessage{Type: "info", Payload: errorPayload{
				Code:    http.StatusConflict,
				Message: "you already answered today's question",
			}})
			continue
		}
		c.push(outboundMessage{Type: "question", Payload: payload})
	}

	return messageID, nil
}

// PresentSummary broadcasts the end-of-session results to the whole channel.
// The collector guarantees it is called once per session.
func (g *Gateway) PresentSummary(_ context.Context, channelID, messageID string, s domain.Summary) error {
	msg := outboundMessage{Type: "summary", Payload: summaryPayload{
		MessageID: messageID,
		Summary:   s,
	}}

	for _, c := range g.channelClients(channelID) {
		c.push(msg)
	}

	return nil
}

func (g *Gateway) channelClients(channelID string) []*client {
	g.mu.RLock()
	defer g.mu.RUnlock()

	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		if c.channelID == channelID {
			clients = append(clients, c)
		}
	}
	return clients
}

func (g *Gateway) pushError(c *client, err error) {
	e := errors.Convert(err)
	c.push(outboundMessage{Type: "error", Payload: errorPayload{
		Code:    e.HTTPStatusCode(),
		Message: e.Message,
	}})
}

// push drops the message when the client's buffer is full; a stalled reader
// must not block question fan-out.
func (c *client) push(msg outboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
