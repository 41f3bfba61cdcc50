package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/hoangnm/dailyquiz/internal/api"
	"github.com/hoangnm/dailyquiz/internal/event"
	"github.com/hoangnm/dailyquiz/internal/gateway"
	"github.com/hoangnm/dailyquiz/internal/leaderboard"
	"github.com/hoangnm/dailyquiz/internal/question"
	"github.com/hoangnm/dailyquiz/internal/score"
	"github.com/hoangnm/dailyquiz/internal/session"
	"github.com/hoangnm/dailyquiz/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs             []string
		Pass              string
		LeaderboardPrefix string
		PubsubPrefix      string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Quiz struct {
		// Channel is the chat channel the daily question is posted to.
		Channel string
		// AnswerWindow bounds how long a question accepts answers.
		AnswerWindow time.Duration
		// ScoreDelta is awarded per correct user.
		ScoreDelta float64
		// PostAt ("15:04") schedules the automatic daily post; empty keeps
		// the bot command-triggered only.
		PostAt string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		question    *question.Service
		score       *score.Service
		leaderboard *leaderboard.Service
	}

	gateway   *gateway.Gateway
	registry  *session.Registry
	collector *session.Collector
	scheduler *session.Scheduler

	http   *http.Server
	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initHTTP()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.question = question.NewService(question.Config{
		DB: s.infra.postgres,
	})

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis,
		Prefix:   s.c.Redis.LeaderboardPrefix,
	})

	s.gateway = gateway.New(gateway.Config{
		Scoreboard: s.service.leaderboard,
	})

	window := s.c.Quiz.AnswerWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	delta := decimal.NewFromFloat(s.c.Quiz.ScoreDelta)
	if delta.LessThanOrEqual(decimal.Zero) {
		delta = decimal.NewFromInt(1)
	}

	s.registry = session.NewRegistry()
	s.collector = session.NewCollector(session.CollectorConfig{
		Registry:  s.registry,
		Questions: s.service.question,
		Store:     s.service.score,
		Scores:    s.service.score,
		Presenter: s.gateway,
		EventBus:  s.eb,
		Window:    window,
		Delta:     delta,
	})
	s.gateway.SetCollector(s.collector)

	channel := s.c.Quiz.Channel
	if channel == "" {
		channel = "general"
	}
	s.scheduler = session.NewScheduler(session.SchedulerConfig{
		Collector: s.collector,
		ChannelID: channel,
		PostAt:    s.c.Quiz.PostAt,
	})
}

func (s *Server) initHTTP() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	e.GET("/ws", gin.WrapF(s.gateway.ServeWS))

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Questions:    s.service.question,
		Scores:       s.service.score,
		Redis:        s.infra.redis,
		PubsubPrefix: s.c.Redis.PubsubPrefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return s.scheduler.Run(ctx)
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
