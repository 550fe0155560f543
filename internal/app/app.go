// Package app arma vaultcore a partir de la configuración: store, cache,
// servicios de dominio, router y tareas de fondo.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/cache"
	"github.com/dropDatabas3/vaultcore/internal/config"
	"github.com/dropDatabas3/vaultcore/internal/credential"
	"github.com/dropDatabas3/vaultcore/internal/device"
	"github.com/dropDatabas3/vaultcore/internal/email"
	httpserver "github.com/dropDatabas3/vaultcore/internal/http"
	auditctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/audit"
	devicectrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/device"
	healthctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/health"
	opaquectrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/opaque"
	passkeyctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/passkey"
	recoveryctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/recovery"
	sessionctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/session"
	"github.com/dropDatabas3/vaultcore/internal/http/router"
	"github.com/dropDatabas3/vaultcore/internal/jwt"
	"github.com/dropDatabas3/vaultcore/internal/metrics"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	"github.com/dropDatabas3/vaultcore/internal/opaque"
	"github.com/dropDatabas3/vaultcore/internal/rate"
	"github.com/dropDatabas3/vaultcore/internal/recovery"
	"github.com/dropDatabas3/vaultcore/internal/security/secretbox"
	"github.com/dropDatabas3/vaultcore/internal/session"
	"github.com/dropDatabas3/vaultcore/internal/store"

	// adapters disponibles
	_ "github.com/dropDatabas3/vaultcore/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/vaultcore/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/vaultcore/internal/store/adapters/sqlite"
)

// App es vaultcore armado.
type App struct {
	Config  *config.Config
	Version string

	Conn  store.AdapterConnection
	Cache cache.Client

	Audit       *audit.Log
	Opaque      *opaque.Server
	Backend     opaque.Backend
	Sessions    *session.Manager
	Devices     *device.Registry
	Recovery    *recovery.Service
	Credentials *credential.Service
	Issuer      *jwt.Issuer

	Metrics *prometheus.Registry
	Handler http.Handler

	log *zap.Logger
}

// New arma la aplicación. Ante error libera lo que ya abrió.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	a := &App{Config: cfg, Version: version, log: logger.Named("app")}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) (err error) {
	cfg := a.Config

	masterKey, err := a.key("security.master_key", cfg.Security.MasterKey, secretbox.ParseKey)
	if err != nil {
		return err
	}
	signingSeed, err := a.key("security.signing_key", cfg.Security.SigningKey, jwt.ParseSeed)
	if err != nil {
		return err
	}

	// ─── Infra ───
	a.Conn, err = store.OpenAdapter(ctx, store.AdapterConfig{
		Name:         cfg.Storage.Driver,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
		AutoMigrate:  cfg.Storage.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("app: store: %w", err)
	}
	a.Cache, err = cache.New(ctx, cache.Config{
		Driver:     cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: config.Duration(cfg.Cache.DefaultTTL, 2*time.Minute),
	})
	if err != nil {
		return fmt.Errorf("app: cache: %w", err)
	}

	a.Metrics = prometheus.NewRegistry()
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(a.Metrics); err != nil {
		return fmt.Errorf("app: metrics: %w", err)
	}
	if c, ok := a.Conn.(interface{ Collector() prometheus.Collector }); ok {
		if err := a.Metrics.Register(c.Collector()); err != nil {
			a.log.Warn("store collector not registered", logger.Err(err))
		}
	}

	// ─── Audit ───
	var mailer email.Sender
	if cfg.SMTP.Host != "" {
		mailer = email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.TLSMode)
	}
	alerters := audit.Alerters{audit.LogAlerter{}}
	if cfg.Audit.Alerter == "smtp" {
		alerters = append(alerters, audit.MailAlerter{Sender: mailer, To: cfg.Audit.AlertTo})
	}
	auditOpts := []audit.Option{audit.WithAlerter(alerters)}
	if k := strings.TrimSpace(cfg.Audit.PseudonymKey); k != "" {
		auditOpts = append(auditOpts, audit.WithPseudonymKey([]byte(k)))
	} else {
		auditOpts = append(auditOpts, audit.WithPseudonymKey(masterKey))
	}
	a.Audit = audit.New(a.Conn.Audit(), auditOpts...)

	// ─── Sesiones ───
	var fallback session.Validator
	if cfg.Session.FallbackURL != "" {
		fallback = session.NewRemoteValidator(cfg.Session.FallbackURL, cfg.Session.FallbackToken, 5*time.Second)
	}
	a.Sessions = session.NewManager(a.Conn.Sessions(), session.Config{
		TTL:          config.Duration(cfg.Session.TTL, 12*time.Hour),
		MaxTTL:       config.Duration(cfg.Session.MaxTTL, 30*24*time.Hour),
		TombstoneTTL: config.Duration(cfg.Session.CacheTTL, 30*time.Second),
		Cache:        a.Cache,
		Fallback:     fallback,
		Audit:        a.Audit,
	})

	// ─── OPAQUE ───
	var serverKey []byte
	if s := strings.TrimSpace(cfg.Opaque.ServerKey); s != "" {
		if serverKey, err = base64.StdEncoding.DecodeString(s); err != nil {
			return fmt.Errorf("app: opaque.server_key: %w", err)
		}
	}
	a.Backend, err = opaque.NewBackend(opaque.BackendConfig{
		Name:              cfg.Opaque.Backend,
		AllowInsecureMock: cfg.Opaque.AllowInsecureMock,
		ServerKey:         serverKey,
		MasterKey:         masterKey,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if a.Backend.Name() == opaque.BackendMock {
		a.log.Warn("OPAQUE mock backend enabled: not for production")
	}
	box, err := secretbox.New(masterKey)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.Opaque = opaque.NewServer(a.Backend, a.Conn.Users(), opaque.ServerConfig{
		StateTTL: config.Duration(cfg.Opaque.AuthStateTTL, 2*time.Minute),
		Box:      box,
		Audit:    a.Audit,
	})

	// ─── Dispositivos ───
	ks, err := jwt.KeySetFromSeed(signingSeed)
	if err != nil {
		return fmt.Errorf("app: signing key: %w", err)
	}
	a.Issuer = jwt.NewIssuer(cfg.Device.Issuer, ks, config.Duration(cfg.Device.TrustTTL, 90*24*time.Hour))
	a.Devices = device.NewRegistry(a.Conn.Devices(), device.Config{
		MaxDevices:     cfg.Device.MaxDevices,
		PairingMaxAge:  config.Duration(cfg.Device.PairingMaxAge, 5*time.Minute),
		TrustThreshold: cfg.Device.TrustThreshold,
		Issuer:         a.Issuer,
		Audit:          a.Audit,
	})

	// ─── Recovery ───
	window := config.Duration(cfg.Recovery.Window, time.Hour)
	var throttle rate.ResettableLimiter
	if rc, ok := a.Cache.(*cache.Redis); ok {
		throttle = rate.NewRedisLimiter(rc.Raw(), cfg.Cache.Redis.Prefix+":recovery:", cfg.Recovery.MaxAttempts, window)
	}
	a.Recovery = recovery.NewService(a.Conn.Recovery(), a.Conn.Throttle(), recovery.Config{
		MaxAttempts:         cfg.Recovery.MaxAttempts,
		Window:              window,
		Throttle:            throttle,
		EmergencyTTL:        config.Duration(cfg.Recovery.EmergencyTTL, 72*time.Hour),
		EmergencyMinDelay:   config.Duration(cfg.Recovery.EmergencyMinDelay, 0),
		EmergencySessionTTL: config.Duration(cfg.Recovery.EmergencySessionTTL, 15*time.Minute),
		Sessions:            a.Sessions,
		Mailer:              mailer,
		Audit:               a.Audit,
	})

	// ─── Credenciales ───
	wa, err := credential.NewWebAuthn(credential.WebAuthnConfig{
		RPID:          cfg.WebAuthn.RPID,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
		Timeout:       cfg.WebAuthn.Timeout,
	}, a.Conn.Credentials())
	if err != nil {
		// sin WebAuthn las rutas de passkeys responden NOT_SUPPORTED
		a.log.Warn("webauthn disabled", logger.Err(err))
		wa = nil
	}
	a.Credentials = credential.NewService(a.Conn.Credentials(), credential.Config{WebAuthn: wa, Audit: a.Audit})

	a.Handler = a.routes()
	return nil
}

func (a *App) routes() http.Handler {
	cfg := a.Config
	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		limiter = rate.NewKeyedLimiter(cfg.Rate.RPS, cfg.Rate.Burst, 10*time.Minute)
	}
	users := a.Conn.Users()
	return router.New(router.Deps{
		Controllers: router.Controllers{
			Opaque:   opaquectrl.NewController(a.Opaque, a.Sessions),
			Session:  sessionctrl.NewController(a.Sessions),
			Device:   devicectrl.NewController(a.Devices),
			Recovery: recoveryctrl.NewController(a.Recovery, users),
			Audit:    auditctrl.NewController(a.Audit),
			Passkey:  passkeyctrl.NewController(a.Credentials, users, a.Sessions),
			Health: healthctrl.NewController(a.Version,
				healthctrl.Check{Name: "store", Pinger: a.Conn},
				healthctrl.Check{Name: "cache", Pinger: a.Cache, Optional: true},
			),
		},
		Sessions:       a.Sessions,
		ServiceToken:   cfg.Session.FallbackToken,
		Limiter:        limiter,
		Idempotency:    a.Cache,
		IdempotencyTTL: config.Duration(cfg.Server.IdempotencyTTL, 10*time.Minute),
		CORSOrigins:    cfg.Server.CORSAllowedOrigins,
		JWKS:           a.Issuer,
		Gatherer:       a.Metrics,
	})
}

// key decodifica una clave requerida. En dev, sin clave, genera una efímera.
func (a *App) key(name, raw string, parse func(string) ([]byte, error)) ([]byte, error) {
	if strings.TrimSpace(raw) != "" {
		k, err := parse(raw)
		if err != nil {
			return nil, fmt.Errorf("app: %s: %w", name, err)
		}
		return k, nil
	}
	if a.Config.App.Env != "dev" {
		return nil, fmt.Errorf("app: %s requerida fuera de dev", name)
	}
	gen, err := secretbox.GenerateKey()
	if err != nil {
		return nil, err
	}
	a.log.Warn("using ephemeral key; data sealed with it will not survive a restart", logger.String("key", name))
	return parse(gen)
}

// SweepResult resume una pasada de limpieza.
type SweepResult struct {
	Sessions int `json:"sessions"`
	Devices  int `json:"devices"`
}

// Sweep borra sesiones vencidas y expira dispositivos sin sync.
func (a *App) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var errs []error
	n, err := a.Sessions.Cleanup(ctx)
	res.Sessions = n
	errs = append(errs, err)
	n, err = a.Devices.CleanupExpiredDevices(ctx, config.Duration(a.Config.Device.TrustTTL, 90*24*time.Hour))
	res.Devices = n
	errs = append(errs, err)
	return res, errors.Join(errs...)
}

// Run sirve HTTP y corre las tareas de fondo hasta que ctx se cancele.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	srv := httpserver.NewServer(httpserver.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
	}, a.Handler)

	g, ctx := errgroup.WithContext(ctx)
	every := config.Duration(cfg.Session.CleanupEvery, 5*time.Minute)
	g.Go(func() error {
		a.Sessions.Run(ctx, every)
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				ttl := config.Duration(cfg.Device.TrustTTL, 90*24*time.Hour)
				if n, err := a.Devices.CleanupExpiredDevices(ctx, ttl); err != nil {
					a.log.Warn("device expiry failed", logger.Err(err))
				} else if n > 0 {
					a.log.Info("devices expired", logger.Count(n))
				}
			}
		}
	})
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}

// Close libera store y cache.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Conn != nil {
		errs = append(errs, a.Conn.Close())
	}
	return errors.Join(errs...)
}
