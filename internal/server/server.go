package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/raygc/pintintin/internal/api"
	"github.com/raygc/pintintin/internal/archive"
	"github.com/raygc/pintintin/internal/auth"
	"github.com/raygc/pintintin/internal/chat"
	"github.com/raygc/pintintin/internal/event"
	"github.com/raygc/pintintin/internal/game"
	"github.com/raygc/pintintin/internal/ledger"
	"github.com/raygc/pintintin/internal/roster"
	"github.com/raygc/pintintin/internal/snapshot"
	"github.com/raygc/pintintin/internal/state"
	"github.com/raygc/pintintin/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Public struct {
		// URL is the externally reachable base used for share links.
		URL string
	}

	Auth struct {
		AdminUser string
		AdminPass string
	}

	Redis struct {
		Snapshot struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs   []string
			Pass    string
			Channel string
		}
	}

	Postgres struct {
		// Archive is optional; with an empty Addr the durable history
		// archive is disabled and only the redis snapshot persists.
		Archive struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

type Server struct {
	c Config

	eb    *event.Bus
	store *state.Store

	infra struct {
		redis struct {
			snapshot redis.UniversalClient
			pubsub   redis.UniversalClient
		}

		postgres struct {
			archive *pgxpool.Pool
		}
	}

	service struct {
		auth    *auth.Service
		game    *game.Service
		roster  *roster.Service
		ledger  *ledger.Service
		archive *archive.Service
		chat    *chat.Service
	}

	snapshots *snapshot.Store

	http *http.Server
	grpc *grpc.Server

	chatCancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.store = state.NewStore(state.Config{EventBus: s.eb})

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("server: load snapshot: %w", err)
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
	s.infra.redis.snapshot, err = connect(s.c.Redis.Snapshot.Addrs, s.c.Redis.Snapshot.Pass)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	a := s.c.Postgres.Archive
	if a.Addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", a.User, a.Pass, a.Addr, a.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	s.infra.postgres.archive = db
	return nil
}

func (s *Server) loadSnapshot() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.snapshots = snapshot.NewStore(snapshot.Config{
		Redis:  s.infra.redis.snapshot,
		Prefix: s.c.Redis.Snapshot.Prefix,
	})

	snap, err := s.snapshots.Load(ctx)
	if err != nil {
		return err
	}

	s.store.Seed(snap)
	return nil
}

func (s *Server) initService() {
	s.service.auth = auth.NewService(auth.Config{
		AdminUser: s.c.Auth.AdminUser,
		AdminPass: s.c.Auth.AdminPass,
	})

	s.service.game = game.NewService(game.Config{
		Store:    s.store,
		EventBus: s.eb,
	})

	s.service.roster = roster.NewService(roster.Config{
		Store: s.store,
	})

	s.service.ledger = ledger.NewService(ledger.Config{
		Store:    s.store,
		EventBus: s.eb,
	})

	if s.infra.postgres.archive != nil {
		s.service.archive = archive.NewService(archive.Config{
			DB:       s.infra.postgres.archive,
			EventBus: s.eb,
		})
	}

	snapshot.NewSaver(snapshot.SaverConfig{
		Store:    s.snapshots,
		EventBus: s.eb,
	})

	s.service.chat = chat.NewService(chat.Config{
		Redis:   s.infra.redis.pubsub,
		Channel: s.c.Redis.Pubsub.Channel,
		Hub:     chat.NewHub(),
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	healthpb.RegisterHealthServer(s.grpc, health.NewServer())

	api.New(api.Config{
		Engine:    e,
		Auth:      s.service.auth,
		Game:      s.service.game,
		Roster:    s.service.roster,
		Ledger:    s.service.ledger,
		Chat:      s.service.chat,
		Store:     s.store,
		PublicURL: s.c.Public.URL,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.chatCancel = cancel

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		if err := s.service.chat.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if s.chatCancel != nil {
		s.chatCancel()
	}

	s.eb.Stop()

	if s.infra.postgres.archive != nil {
		s.infra.postgres.archive.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
