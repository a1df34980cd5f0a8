package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"golang.org/x/crypto/bcrypt"

	"github.com/canyonlabs/usermgr/pkg/audit"
	"github.com/canyonlabs/usermgr/pkg/config"
	"github.com/canyonlabs/usermgr/pkg/gate"
	"github.com/canyonlabs/usermgr/pkg/iam"
	iamapi "github.com/canyonlabs/usermgr/pkg/iam/api"
	"github.com/canyonlabs/usermgr/pkg/login"
	loginapi "github.com/canyonlabs/usermgr/pkg/login/api"
	"github.com/canyonlabs/usermgr/pkg/obs"
	"github.com/canyonlabs/usermgr/pkg/ratelimit"
	"github.com/canyonlabs/usermgr/pkg/rbac"
	rbacapi "github.com/canyonlabs/usermgr/pkg/rbac/api"
	"github.com/canyonlabs/usermgr/pkg/registry"
	"github.com/canyonlabs/usermgr/pkg/tokens"
)

// AdminRole is the role gating the administrative endpoints
const AdminRole = "admin"

// loadEnvFile loads environment variables from a .env file if one exists
// next to the binary or in the working directory. Variables already set in
// the environment win.
func loadEnvFile() {
	candidates := []string{}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}

	for _, envFile := range candidates {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			slog.Error("Failed to load .env file", "path", envFile, "err", err)
			return
		}
		slog.Info("Configuration loaded from .env file", "path", envFile)
		return
	}
	slog.Info("No .env file found, using process environment")
}

func newTokenRegistry(cfg config.RedisConfig) registry.TokenRegistry {
	if cfg.URL == "" {
		slog.Info("No REDIS_URL set, using in-memory token registry")
		reg := registry.NewInMemoryTokenRegistry()
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				reg.PurgeExpired(context.Background())
			}
		}()
		return reg
	}

	reg, err := registry.NewRedisTokenRegistry(cfg.URL)
	if err != nil {
		slog.Error("Failed connecting to redis", "err", err)
		os.Exit(-1)
	}
	slog.Info("Token registry backed by redis")
	return reg
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	loadEnvFile()

	cfg := config.Config{}
	cleanenv.ReadEnv(&cfg)

	server := app.DefaultApp()
	app.RegisterHealthzRoutes(server.R)

	obs.Init()
	server.R.Use(obs.Instrument)
	server.R.Handle("/metrics", obs.Handler())

	dbURL := cfg.DbConfig.ToDatabaseURL()
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		slog.Error("Failed opening database", "host", cfg.DbConfig.Host, "db", cfg.DbConfig.Database, "err", err)
		os.Exit(-1)
	}
	if err := db.PingContext(context.Background()); err != nil {
		slog.Error("Failed pinging database", "host", cfg.DbConfig.Host, "db", cfg.DbConfig.Database, "err", err)
		os.Exit(-1)
	}

	auditSink := audit.NewSlogSink(logger)
	tokenRegistry := newTokenRegistry(cfg.RedisConfig)

	tokenGenerator := tokens.NewJwtTokenGenerator(cfg.JwtConfig.Secret, cfg.JwtConfig.Issuer, cfg.JwtConfig.Audience)
	tokenService := tokens.NewTokenService(tokenGenerator, tokenRegistry,
		tokens.WithAccessTokenExpiry(cfg.JwtConfig.AccessExpiry()),
		tokens.WithRefreshTokenExpiry(cfg.JwtConfig.RefreshExpiry()),
		tokens.WithAuditSink(auditSink),
	)

	loginRepository := login.NewPostgresLoginRepository(db)
	policyChecker := login.NewDefaultPasswordPolicyChecker(cfg.PasswordPolicyConfig.ToPolicy())
	passwordManager := login.NewPasswordManager(loginRepository, login.NewBcryptHasher(bcrypt.DefaultCost), policyChecker)
	loginService := login.NewLoginService(loginRepository, passwordManager,
		login.WithMaxFailedAttempts(cfg.LoginConfig.MaxFailedAttempts),
		login.WithLockDuration(cfg.LoginConfig.LockDuration()),
		login.WithTokenRevoker(tokenService),
		login.WithAuditSink(auditSink),
	)

	rbacService := rbac.NewRbacService(rbac.NewPostgresRbacRepository(db), rbac.WithAuditSink(auditSink))
	userService := iam.NewUserService(iam.NewPostgresIamRepository(db), passwordManager, rbacService,
		iam.WithTokenRevoker(tokenService),
		iam.WithAuditSink(auditSink),
	)

	g := gate.NewGate(tokenService, loginRepository, rbacService)
	authHandle := loginapi.NewHandle(loginService, tokenService, rbacService,
		loginapi.WithCookieFlags(cfg.JwtConfig.CookieHttpOnly, cfg.JwtConfig.CookieSecure),
		loginapi.WithAuditSink(auditSink))
	userHandle := iamapi.NewHandle(userService, rbacService)
	rbacHandle := rbacapi.NewHandle(rbacService)

	loginLimiter := ratelimit.PerIP(cfg.RateLimitConfig.LoginCapacity, cfg.RateLimitConfig.LoginPerMinute)
	auditMiddleware := audit.NewMiddleware(auditSink, func(ctx context.Context) (uuid.UUID, bool) {
		user, ok := gate.AuthUserFromContext(ctx)
		if !ok {
			return uuid.Nil, false
		}
		return user.ID, true
	})

	server.R.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(loginLimiter)
				authHandle.Routes(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(g.Authenticator)
				r.Use(auditMiddleware.Handler)
				authHandle.AuthedRoutes(r)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(g.Authenticator)
			r.Use(auditMiddleware.Handler)
			r.Use(g.RequireRole(AdminRole))
			r.Route("/user", userHandle.Routes)
			rbacHandle.Routes(r)
		})
	})

	slog.Info("Starting usermgr",
		"db", cfg.DbConfig.Database,
		"access_token_expiry", cfg.JwtConfig.AccessExpiry(),
		"refresh_token_expiry", cfg.JwtConfig.RefreshExpiry(),
		"max_failed_attempts", cfg.LoginConfig.MaxFailedAttempts,
	)
	server.Run()
}
