// Command leadflowd serves one conversation graph over HTTP.
//
// Configuration comes from the environment (prefix LEADFLOW_), with an
// optional .env file for development. The graph document is read once at
// startup; ERROR-level diagnostics abort the boot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/leadflowhq/leadflow/flow"
	"github.com/leadflowhq/leadflow/flow/emit"
	"github.com/leadflowhq/leadflow/flow/store"
	"github.com/leadflowhq/leadflow/server"
)

type config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	GraphPath string `envconfig:"GRAPH_PATH" required:"true"`

	StoreDriver string        `envconfig:"STORE_DRIVER" default:"memory"`
	SQLitePath  string        `envconfig:"SQLITE_PATH" default:"leadflow.db"`
	MySQLDSN    string        `envconfig:"MYSQL_DSN"`
	RedisAddr   string        `envconfig:"REDIS_ADDR"`
	RedisTTL    time.Duration `envconfig:"REDIS_TTL" default:"24h"`

	AnalyticsBuffer int `envconfig:"ANALYTICS_BUFFER" default:"1024"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

func main() {
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("leadflow", &cfg); err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	log := newLogger(cfg)

	document, err := os.ReadFile(cfg.GraphPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.GraphPath).Msg("failed to read graph")
	}
	graph, diags, err := flow.Load(document)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse graph")
	}
	for _, d := range diags {
		evt := log.Warn()
		if d.Severity == flow.SeverityError {
			evt = log.Error()
		}
		evt.Str("code", d.Code).Str("node_id", d.NodeID).Msg(d.Message)
	}
	if flow.HasErrors(diags) {
		log.Fatal().Msg("graph has validation errors, refusing to start")
	}

	contexts, analyticsDB, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}

	emitter := buildEmitter(cfg, analyticsDB, log)
	defer closeEmitter(emitter)

	engine, err := flow.New(graph, flow.Config{
		Contexts: contexts,
		Emitter:  emitter,
		Metrics:  flow.NewMetrics(prometheus.DefaultRegisterer),
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engine")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(engine, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("graph", graph.Name).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}

func newLogger(cfg config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stderr
	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.LogPretty {
		log = log.Output(zerolog.ConsoleWriter{Out: out})
	}
	return log
}

// buildStore opens the configured context store. SQLite additionally
// hands back its database handle so analytics can share the file.
func buildStore(cfg config) (store.Store[*flow.Context], *store.SQLiteStore[*flow.Context], error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemStore[*flow.Context](), nil, nil
	case "sqlite":
		s, err := store.NewSQLiteStore[*flow.Context](cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "mysql":
		s, err := store.NewMySQLStore[*flow.Context](cfg.MySQLDSN)
		return s, nil, err
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return store.NewRedisStore[*flow.Context](client, cfg.RedisTTL), nil, nil
	}
	return nil, nil, errors.New("unknown store driver: " + cfg.StoreDriver)
}

// buildEmitter assembles the analytics pipeline: structured log always,
// plus a SQL sink when a database is available, all behind the async
// buffer so slow sinks never block a step.
func buildEmitter(cfg config, sqlite *store.SQLiteStore[*flow.Context], log zerolog.Logger) emit.Emitter {
	sinks := []emit.Emitter{emit.NewLogEmitter(log)}
	if sqlite != nil {
		sqlSink, err := emit.NewSQLEmitter(sqlite.DB(), log)
		if err != nil {
			log.Warn().Err(err).Msg("analytics table unavailable, events go to log only")
		} else {
			sinks = append(sinks, sqlSink)
		}
	}

	var inner emit.Emitter = emit.NewMultiEmitter(sinks...)
	if len(sinks) == 1 {
		inner = sinks[0]
	}
	return emit.NewAsyncEmitter(inner, cfg.AnalyticsBuffer, log)
}

func closeEmitter(e emit.Emitter) {
	if closer, ok := e.(interface{ Close() }); ok {
		closer.Close()
	}
}
