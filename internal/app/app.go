// Package app compone el contenedor: storage, limiter, mail, executor,
// servicios y el handler HTTP final. Todo el wiring vive acá; main solo carga
// config y corre.
package app

import (
	"context"
	"fmt"

	rdb "github.com/redis/go-redis/v9"

	"github.com/revclaw/revclaw/internal/audit"
	"github.com/revclaw/revclaw/internal/collab"
	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/email"
	revhttp "github.com/revclaw/revclaw/internal/http"
	"github.com/revclaw/revclaw/internal/http/handlers"
	agentssvc "github.com/revclaw/revclaw/internal/http/services/agents"
	installationssvc "github.com/revclaw/revclaw/internal/http/services/installations"
	intentssvc "github.com/revclaw/revclaw/internal/http/services/intents"
	tokenssvc "github.com/revclaw/revclaw/internal/http/services/tokens"
	"github.com/revclaw/revclaw/internal/http/router"
	"github.com/revclaw/revclaw/internal/observability/logger"
	"github.com/revclaw/revclaw/internal/rate"
	"github.com/revclaw/revclaw/internal/session"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/store/memory"
	"github.com/revclaw/revclaw/internal/store/pg"
)

type App struct {
	Cfg    *config.Config
	Repo   core.Repository
	Server *revhttp.Server

	redis *rdb.Client
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	repo, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	recorder := audit.Fanout{audit.NewZapRecorder(), audit.NewStoreRecorder(repo)}

	issuer, err := session.New(cfg.Session.Issuer, config.Duration(cfg.Session.TTL, 0), cfg.Session.KeySeed)
	if err != nil {
		return nil, fmt.Errorf("session issuer: %w", err)
	}

	var redisClient *rdb.Client
	var limiter rate.Limiter
	if cfg.Redis.Addr != "" {
		redisClient = rdb.NewClient(&rdb.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		limiter = rate.NewRedisLimiter(redisClient, cfg.Redis.Prefix,
			cfg.Rate.Refresh.Limit, config.Duration(cfg.Rate.Refresh.Window, 0))
	} else {
		limiter = rate.NewMemoryLimiter(cfg.Rate.Refresh.Limit, config.Duration(cfg.Rate.Refresh.Window, 0))
	}

	var mail email.Sender = email.EchoSender{}
	if cfg.SMTP.Host != "" {
		mail = email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
	}

	var executor collab.Executor = collab.EchoExecutor{}
	if cfg.Collaborator.BaseURL != "" {
		executor = collab.NewHTTPExecutor(cfg.Collaborator.BaseURL, cfg.Collaborator.ServiceToken)
	}

	agents := agentssvc.New(repo, recorder,
		config.Duration(cfg.Tokens.ClaimTTL, 0), config.Duration(cfg.Tokens.ExchangeTTL, 0))
	tokens := tokenssvc.New(repo, recorder,
		config.Duration(cfg.Tokens.AccessTTL, 0), config.Duration(cfg.Tokens.RefreshTTL, 0))
	intents := intentssvc.New(repo, recorder, executor, mail, cfg.Server.BaseURL,
		config.Duration(cfg.Intents.TTL, 0), config.Duration(cfg.Intents.ApprovalTTL, 0))
	insts := installationssvc.New(repo, recorder)

	handler := router.New(router.Deps{
		Agents:        handlers.NewAgentsHandler(agents),
		Tokens:        handlers.NewTokensHandler(tokens),
		Intents:       handlers.NewIntentsHandler(intents),
		Installations: handlers.NewInstallationsHandler(insts),
		Sessions:      handlers.NewSessionsHandler(repo, issuer),
		Projects:      handlers.NewProjectsHandler(intents),
		Health:        handlers.NewHealthHandler(repo),

		AgentAuth:      tokens,
		SessionParser:  issuer,
		RefreshLimiter: limiter,
		InternalSecret: cfg.InternalAuthSecret,
	})

	if cfg.InternalAuthSecret == "" {
		logger.L().Warn("internal auth secret not set; /v1/agents/claim and /v1/sessions will reject everything")
	}

	return &App{
		Cfg:    cfg,
		Repo:   repo,
		Server: revhttp.NewServer(cfg.Server.Addr, handler),
		redis:  redisClient,
	}, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (core.Repository, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxConns:        int32(cfg.Storage.Postgres.MaxConns),
			MinConns:        int32(cfg.Storage.Postgres.MinConns),
			ConnMaxLifetime: config.Duration(cfg.Storage.Postgres.ConnMaxLifetime, 0),
		})
	case "memory", "":
		logger.L().Warn("using in-memory storage; state is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Close libera los recursos del contenedor, en orden inverso al armado.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.Repo != nil {
		a.Repo.Close()
	}
}
