package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/event"
	"github.com/hoangnm/dailyquiz/internal/question"
	"github.com/hoangnm/dailyquiz/internal/score"
)

type Config struct {
	Router       *gin.Engine
	EventBus     *event.Bus
	Questions    *question.Service
	Scores       *score.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// API is the admin surface: REST CRUD over the question bank plus the
// scoreboard query, mirroring the panel the bot's operators use.
type API struct {
	questions *question.Service
	scores    *score.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		questions: c.Questions,
		scores:    c.Scores,
		redis:     c.Redis,
		prefix:    c.PubsubPrefix,
	}

	g := c.Router.Group("/api")
	g.GET("/questions", a.listQuestions)
	g.POST("/questions", a.createQuestion)
	g.GET("/questions/:id", a.getQuestion)
	g.PUT("/questions/:id", a.updateQuestion)
	g.DELETE("/questions/:id", a.deleteQuestion)
	g.GET("/scoreboard", a.getScoreboard)

	// Push-side notifications for panel/chat consumers.
	c.EventBus.Subscribe(domain.EventNameSessionClosed, func(ctx context.Context, e event.Event) error {
		return a.PublishSessionClosed(ctx, e.(domain.EventSessionClosed))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

type questionRequest struct {
	Text           string   `json:"question_text" binding:"required"`
	Answers        []string `json:"answers" binding:"required"`
	CorrectAnswers []string `json:"correct_answers" binding:"required"`
	Day            string   `json:"day" binding:"required"`
}

type questionResponse struct {
	ID             int64    `json:"id"`
	Text           string   `json:"question_text"`
	Answers        []string `json:"answers"`
	CorrectAnswers []string `json:"correct_answers"`
	Day            string   `json:"day"`
}

func (a *API) listQuestions(c *gin.Context) {
	qs, err := a.questions.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := make([]questionResponse, 0, len(qs))
	for _, q := range qs {
		resp = append(resp, toQuestionResponse(q))
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) getQuestion(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}

	q, err := a.questions.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuestionResponse(*q))
}

func (a *API) createQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := a.questions.Create(c.Request.Context(), domain.Question{
		Text:           req.Text,
		Answers:        req.Answers,
		CorrectAnswers: req.CorrectAnswers,
		Day:            req.Day,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toQuestionResponse(*q))
}

func (a *API) updateQuestion(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}

	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := a.questions.Update(c.Request.Context(), domain.Question{
		ID:             id,
		Text:           req.Text,
		Answers:        req.Answers,
		CorrectAnswers: req.CorrectAnswers,
		Day:            req.Day,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuestionResponse(*q))
}

func (a *API) deleteQuestion(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}

	if err := a.questions.Delete(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "question deleted"})
}

type scoreboardEntryResponse struct {
	Rank     int     `json:"rank"`
	UserID   string  `json:"user_id"`
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

func (a *API) getScoreboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := a.scores.ListTopScores(c.Request.Context(), score.ListTopScoresRequest{Limit: limit})
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := make([]scoreboardEntryResponse, 0, len(entries))
	for i, e := range entries {
		resp = append(resp, scoreboardEntryResponse{
			Rank:     i + 1,
			UserID:   e.UserID,
			Username: e.Username,
			Score:    e.Score.InexactFloat64(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func questionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return 0, false
	}
	return id, true
}

func toQuestionResponse(q domain.Question) questionResponse {
	return questionResponse{
		ID:             q.ID,
		Text:           q.Text,
		Answers:        q.Answers,
		CorrectAnswers: q.CorrectAnswers,
		Day:            q.Day,
	}
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"error": e.Message})
}
