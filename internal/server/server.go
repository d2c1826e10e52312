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
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quizduel/backend/internal/api"
	"github.com/quizduel/backend/internal/duel"
	"github.com/quizduel/backend/internal/event"
	"github.com/quizduel/backend/internal/identity"
	"github.com/quizduel/backend/internal/matchmaking"
	"github.com/quizduel/backend/internal/question"
	"github.com/quizduel/backend/internal/registry"
	"github.com/quizduel/backend/internal/score"
	"github.com/quizduel/backend/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Auth struct {
		JWTSecret string
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Questions struct {
			Addr string
			User string
			Pass string
			Name string
		}

		Results struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Matchmaking struct {
		RatingThreshold   int
		QuestionsPerMatch int
	}

	Duel struct {
		GraceSeconds int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
		}

		postgres struct {
			questions *pgxpool.Pool
			results   *pgxpool.Pool
		}
	}

	service struct {
		registry   *registry.Registry
		pool       *matchmaking.Pool
		store      *duel.Store
		duel       *duel.Service
		supervisor *duel.Supervisor
		recorder   *score.Service
		metrics    *telemetry.Metrics
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
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
		Addrs:    s.c.Redis.Leaderboard.Addrs,
		Password: s.c.Redis.Leaderboard.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.leaderboard = r
	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.questions, err = connect(s.c.Postgres.Questions.Addr, s.c.Postgres.Questions.User, s.c.Postgres.Questions.Pass, s.c.Postgres.Questions.Name)
	if err != nil {
		return fmt.Errorf("questions: %w", err)
	}

	s.infra.postgres.results, err = connect(s.c.Postgres.Results.Addr, s.c.Postgres.Results.User, s.c.Postgres.Results.Pass, s.c.Postgres.Results.Name)
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
	s.service.registry = registry.New()
	s.service.pool = matchmaking.NewPool(s.c.Matchmaking.RatingThreshold)
	s.service.store = duel.NewStore()

	s.service.recorder = score.NewService(score.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.results,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.service.duel = duel.NewService(duel.Config{
		Registry:          s.service.registry,
		Pool:              s.service.pool,
		Store:             s.service.store,
		Questions:         question.NewPostgresProvider(question.Config{DB: s.infra.postgres.questions}),
		EventBus:          s.eb,
		Metrics:           s.service.metrics,
		QuestionsPerMatch: s.c.Matchmaking.QuestionsPerMatch,
	})

	s.service.supervisor = duel.NewSupervisor(duel.SupervisorConfig{
		Orchestrator: s.service.duel,
		Pool:         s.service.pool,
		Store:        s.service.store,
		Clock:        clockwork.NewRealClock(),
		GracePeriod:  time.Duration(s.c.Duel.GraceSeconds) * time.Second,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	a := api.New(api.Config{
		Registry:   s.service.registry,
		Duel:       s.service.duel,
		Supervisor: s.service.supervisor,
		Identity:   identity.NewJWTResolver(s.c.Auth.JWTSecret),
		Metrics:    s.service.metrics,
	})
	a.Register(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
