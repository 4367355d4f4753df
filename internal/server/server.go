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
	"golang.org/x/sync/errgroup"

	"ctfscore/internal/achievement"
	"ctfscore/internal/api"
	"ctfscore/internal/broadcast"
	"ctfscore/internal/domain"
	"ctfscore/internal/event"
	"ctfscore/internal/firstblood"
	"ctfscore/internal/ledger"
	"ctfscore/internal/leaderboard"
	"ctfscore/internal/memstore"
	"ctfscore/internal/postgres"
	"ctfscore/internal/submission"
	"ctfscore/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Storage struct {
		// Driver selects the record store: "postgres" for the real
		// deployment, "memory" for local development.
		Driver string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Broadcast struct {
		QueueSize int
	}
}

// Store is the full record-store contract the services carve their narrow
// interfaces out of.
type Store interface {
	submission.Store
	achievement.Store
	ledger.Store
	firstblood.Store
	api.Store
}

type Server struct {
	c Config

	eb  *event.Bus
	hub *broadcast.Hub

	infra struct {
		store Store

		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		firstblood  *firstblood.Service
		ledger      *ledger.Service
		achievement *achievement.Service
		submission  *submission.Service
		leaderboard *leaderboard.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.hub = broadcast.NewHub(c.Broadcast.QueueSize)

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

	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initStore() error {
	switch s.c.Storage.Driver {
	case "", "postgres":
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
		s.infra.store = postgres.NewStore(db)

	case "memory":
		ms := memstore.NewStore()
		ms.SetEventConfig(domain.EventConfig{
			Name:            "local",
			Active:          true,
			FirstBloodBonus: 50,
		})
		s.infra.store = ms

	default:
		return fmt.Errorf("unknown storage driver %q", s.c.Storage.Driver)
	}

	return nil
}

func (s *Server) initService() {
	s.service.firstblood = firstblood.NewService(firstblood.Config{
		Store: s.infra.store,
	})

	s.service.ledger = ledger.NewService(ledger.Config{
		EventBus: s.eb,
		Store:    s.infra.store,
	})

	s.service.achievement = achievement.NewService(achievement.Config{
		Store: s.infra.store,
	})

	s.service.submission = submission.NewService(submission.Config{
		Store:        s.infra.store,
		FirstBlood:   s.service.firstblood,
		Ledger:       s.service.ledger,
		Achievements: s.service.achievement,
		EventBus:     s.eb,
		Hub:          s.hub,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Hub:          s.hub,
		Submission:   s.service.submission,
		Ledger:       s.service.ledger,
		Store:        s.infra.store,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

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

	s.hub.Close()
	s.eb.Stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
