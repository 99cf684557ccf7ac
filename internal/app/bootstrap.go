// Package app wires configuration, storage, repositories and services into a
// running instance shared by the api and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"

	"storyreel/internal/adapter/repo"
	"storyreel/internal/composer"
	"storyreel/internal/http/handlers"
	"storyreel/internal/infra"
	"storyreel/internal/migrations"
	"storyreel/internal/providers"
	"storyreel/internal/providers/comfy"
	"storyreel/internal/providers/elevenlabs"
	"storyreel/internal/providers/gemini"
	"storyreel/internal/providers/openai"
	"storyreel/internal/providers/render"
	"storyreel/internal/providers/suno"
	"storyreel/internal/scheduler"
	"storyreel/internal/storage"
	"storyreel/internal/vault"
)

// Services holds everything a binary needs after wiring.
type Services struct {
	Config    *infra.Config
	Logger    infra.Logger
	Pool      *pgxpool.Pool
	Store     storage.Store
	Vault     *vault.Vault
	Registry  *providers.Registry
	Selector  *providers.Selector
	Scheduler *scheduler.Scheduler
	Composer  *composer.Composer
	Script    *providers.ScriptService
	OAuth     map[string]*oauth2.Config
}

// Bootstrap connects to the database, runs pending migrations and constructs
// the full service graph.
func Bootstrap(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: connect database: %w", err)
	}

	if err := migrate(ctx, cfg.DatabaseURL); err != nil {
		pool.Close()
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	registry := providers.DefaultCatalog()

	jobRepo := repo.NewJobRepository(pool)
	assetRepo := repo.NewAssetRepository(pool)
	credRepo := repo.NewCredentialRepository(pool)

	oauthClients := map[string]vault.OAuthClient{}
	if cfg.SunoClientID != "" {
		oauthClients["suno"] = vault.OAuthClient{
			ClientID:     cfg.SunoClientID,
			ClientSecret: cfg.SunoClientSecret,
		}
	}

	v, err := vault.New(vault.Options{
		Repo:           credRepo,
		Providers:      registry,
		OAuthClients:   oauthClients,
		Key:            vault.DeriveKey(cfg.VaultMasterSecret, cfg.VaultKeySalt),
		Logger:         &logger,
		RefreshTimeout: cfg.OAuthExchangeTimeout,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: vault: %w", err)
	}

	selector, err := providers.NewSelector(providers.SelectorOptions{
		Registry:     registry,
		Credentials:  v,
		Factories:    factories(cfg, &logger),
		ProbeTimeout: cfg.ProbeTimeout,
		Logger:       &logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: selector: %w", err)
	}

	sched, err := scheduler.New(scheduler.Options{
		Jobs:        jobRepo,
		Assets:      assetRepo,
		Selector:    selector,
		Store:       store,
		Logger:      &logger,
		LaneWidth:   cfg.LaneWidth,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: scheduler: %w", err)
	}

	comp, err := composer.New(composer.Options{
		Assets: assetRepo,
		Queue:  sched,
		Logger: &logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: composer: %w", err)
	}

	return &Services{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		Store:     store,
		Vault:     v,
		Registry:  registry,
		Selector:  selector,
		Scheduler: sched,
		Composer:  comp,
		Script:    providers.NewScriptService(selector),
		OAuth:     oauthConfigs(cfg, registry),
	}, nil
}

// Handlers assembles the HTTP handler set over the wired services.
func (s *Services) Handlers() *handlers.App {
	return &handlers.App{
		Queue:    s.Scheduler,
		Vault:    s.Vault,
		Registry: s.Registry,
		Composer: s.Composer,
		Script:   s.Script,
		OAuth:    s.OAuth,
		Logger:   s.Logger,
	}
}

// Close releases held resources.
func (s *Services) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// migrate applies pending schema migrations over a short-lived database/sql
// connection; the pool stays on the native pgx interface.
func migrate(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("app: open migration connection: %w", err)
	}
	defer db.Close()
	if err := migrations.Run(ctx, db); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	return nil
}

func newStore(ctx context.Context, cfg *infra.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Options{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	default:
		return storage.NewFileStore(cfg.StorageBasePath, cfg.StorageBaseURL)
	}
}

// factories maps each catalog entry to a constructor over decrypted
// credential material. Local providers carry their endpoint in the secret
// slot; cloud providers carry an API key or access token.
func factories(cfg *infra.Config, logger *infra.Logger) map[string]providers.Factory {
	return map[string]providers.Factory{
		"comfyui": func(m *vault.Material) (providers.Client, error) {
			c, err := comfy.NewClient(comfy.Options{
				Endpoint:   m.Secret,
				Checkpoint: m.Config["checkpoint"],
				Budget:     cfg.WorkflowBudget,
				Logger:     logger,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		"renderd": func(m *vault.Material) (providers.Client, error) {
			c, err := render.NewClient(render.Options{
				Endpoint: m.Secret,
				Logger:   logger,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		"openai": func(m *vault.Material) (providers.Client, error) {
			return openai.NewClient(openai.Options{
				APIKey: m.Secret,
				Model:  m.Config["model"],
				Logger: logger,
			}), nil
		},
		"gemini-image": func(m *vault.Material) (providers.Client, error) {
			c := gemini.NewClient(gemini.Options{
				APIKey:     m.Secret,
				ImageModel: m.Config["image_model"],
				Logger:     logger,
			})
			return gemini.ImageProvider{Client: c}, nil
		},
		"gemini-video": func(m *vault.Material) (providers.Client, error) {
			c := gemini.NewClient(gemini.Options{
				APIKey:     m.Secret,
				VideoModel: m.Config["video_model"],
				Logger:     logger,
			})
			return gemini.VideoProvider{Client: c}, nil
		},
		"elevenlabs": func(m *vault.Material) (providers.Client, error) {
			return elevenlabs.NewClient(elevenlabs.Options{
				APIKey:  m.Secret,
				ModelID: m.Config["model_id"],
				Logger:  logger,
			}), nil
		},
		"suno": func(m *vault.Material) (providers.Client, error) {
			token := m.AccessToken
			if token == "" {
				token = m.Secret
			}
			return suno.NewClient(suno.Options{
				Token:  token,
				Logger: logger,
			}), nil
		},
	}
}

// oauthConfigs builds the application-level OAuth2 clients for providers the
// catalog marks as OAuth-capable and for which client credentials exist.
func oauthConfigs(cfg *infra.Config, registry *providers.Registry) map[string]*oauth2.Config {
	out := map[string]*oauth2.Config{}
	if cfg.SunoClientID == "" {
		return out
	}
	if d, ok := registry.Get("suno"); ok && d.OAuth != nil {
		out["suno"] = &oauth2.Config{
			ClientID:     cfg.SunoClientID,
			ClientSecret: cfg.SunoClientSecret,
			Scopes:       d.OAuth.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  d.OAuth.AuthURL,
				TokenURL: d.OAuth.TokenURL,
			},
		}
	}
	return out
}
