package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	googleauth "cvplus-backend/internal/auth"
	"cvplus-backend/internal/sessions"
	"cvplus-backend/internal/shared/config"
	"cvplus-backend/internal/shared/server"
	"cvplus-backend/internal/shared/storage/db"
	"cvplus-backend/internal/shared/storage/kv"
)

// App holds shared dependencies, wired explicitly at startup.
type App struct {
	Config         config.Config
	Router         *gin.Engine
	DB             *sql.DB
	Cache          kv.Store
	RemoteRepo     sessions.RemoteRepo
	SessionManager *sessions.Manager
	SessionService *sessions.Service
	SessionHandler *sessions.Handler
	GoogleAuth     *googleauth.GoogleService
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cache := buildCache(cfg)

	var remote sessions.RemoteRepo
	if sqlDB != nil {
		remote = &sessions.PGRepo{DB: sqlDB}
	} else {
		remote = sessions.NewMemoryRepo()
	}

	manager := sessions.NewManager(sessions.NewCacheStore(cache), remote)
	service := sessions.NewService(manager)

	app := &App{
		Config:         cfg,
		DB:             sqlDB,
		Cache:          cache,
		RemoteRepo:     remote,
		SessionManager: manager,
		SessionService: service,
		SessionHandler: sessions.NewHandler(service),
		GoogleAuth: googleauth.NewGoogleService(
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			cfg.GoogleRedirectURL,
			cfg.UIRedirectURL,
			service,
		),
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:         app.Config,
		SessionHandler: app.SessionHandler,
		GoogleAuth:     app.GoogleAuth,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory remote store")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory remote store: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return sqlDB, nil
}

func buildCache(cfg config.Config) kv.Store {
	switch cfg.CacheStoreType {
	case "memory":
		return kv.NewMemoryStore()
	default:
		return kv.NewFileStore(cfg.CacheDir)
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
