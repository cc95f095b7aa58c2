package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"example.com/karuta-mvp/internal/catalog"
	"example.com/karuta-mvp/internal/config"
	"example.com/karuta-mvp/internal/game"
	"example.com/karuta-mvp/internal/httpapi"
	"example.com/karuta-mvp/internal/migrate"
	"example.com/karuta-mvp/internal/store"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db  *pgxpool.Pool // nil => analytics disabled
	rdb *redis.Client // nil => live feed disabled

	srv *http.Server
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	// --- Card catalog (built once, read-only afterwards) ---
	cat, err := catalog.Scan(cfg.Images.Root)
	if err != nil {
		return nil, fmt.Errorf("catalog scan: %w", err)
	}
	if len(cat.Versions()) == 0 {
		log.Warn("image catalog is empty; room creation will fail", "root", cfg.Images.Root)
	} else {
		log.Info("image catalog built", "versions", len(cat.Versions()))
	}
	resolver := catalog.Resolver{
		PublicBaseURL: cfg.Images.PublicBaseURL,
		LocalBaseURL:  localBaseURL(cfg.HTTP.Addr),
	}

	// --- Postgres (optional analytics side-channel) ---
	var db *pgxpool.Pool
	var hints *store.HintStats
	var steps game.StepStore
	var sinks []game.ClueSink

	if cfg.Postgres.URL != "" {
		if cfg.Postgres.RunMigrations {
			if err := migrate.Up(cfg.Postgres.URL, cfg.Postgres.MigrationsDir, log); err != nil {
				return nil, err
			}
		}

		db, err = pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.Ping(pingCtx)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}

		sinks = append(sinks, store.NewClueLog(db))
		hints = store.NewHintStats(db)
		steps = store.NewStepLog(db)
		log.Info("postgres connected, clue logging enabled")
	} else {
		log.Info("no DATABASE_URL, clue logging disabled")
	}

	// --- Redis (optional live clue feed) ---
	var rdb *redis.Client
	var feed *game.RedisClueFeed

	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			if db != nil {
				db.Close()
			}
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
		}

		feed = game.NewRedisClueFeed(rdb, cfg.Redis.FeedTTL, cfg.Redis.FeedMax)
		sinks = append(sinks, feed)
		log.Info("redis connected, clue feed enabled")
	}

	// --- Game ---
	roomSvc := game.NewRoomService(game.Config{
		AdvanceDelay: cfg.Game.AdvanceDelay,
		ReapDelay:    cfg.Game.ReapDelay,
	}, cat, resolver, sinks, log)
	gameSrv := game.NewServer(roomSvc, cat, resolver, steps)

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"ok":true,"time":%q}`+"\n", time.Now().UTC().Format(time.RFC3339))
	})
	mux.HandleFunc("/healthz/db", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db == nil {
			w.WriteHeader(http.StatusNotImplemented)
			_, _ = w.Write([]byte(`{"ok":false,"reason":"db not configured"}` + "\n"))
			return
		}
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			log.Error("db health check failed", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"ok":false}` + "\n"))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}` + "\n"))
	})

	mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(cfg.Images.Root))))

	gameSrv.RegisterRoutes(mux)

	admin := &httpapi.AdminHandler{
		Hints:           hints,
		Feed:            feed,
		CatalogVersions: cat.Versions,
	}
	mux.HandleFunc("/api/admin/hints", admin.HandleHints)
	mux.HandleFunc("/api/admin/feed", admin.HandleFeed)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("karuta backend is up"))
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.CORS(cfg.CORS.AllowedOrigins)(mux),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return &App{cfg: cfg, log: log, db: db, rdb: rdb, srv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	_ = a.Close(context.Background())
	return err
}

// localBaseURL turns the listen address into an absolute base for
// image URLs built outside a request (websocket pushes).
func localBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return "http://localhost:4000"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (a *App) Close(ctx context.Context) error {
	// best-effort
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	return nil
}
