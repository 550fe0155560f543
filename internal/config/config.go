package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env"`
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		ReadTimeout        string   `yaml:"read_timeout"`
		WriteTimeout       string   `yaml:"write_timeout"`
		// IdempotencyTTL: cuánto se recuerda la respuesta de un message_id.
		IdempotencyTTL string `yaml:"idempotency_ttl"`
	} `yaml:"server"`

	Log struct {
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// memory | sqlite | postgres
		Driver       string `yaml:"driver"`
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
		AutoMigrate  bool   `yaml:"auto_migrate"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		DefaultTTL string `yaml:"default_ttl"`
	} `yaml:"cache"`

	Security struct {
		// Clave maestra de secretbox (base64/hex 32 bytes). Sella los registros OPAQUE.
		MasterKey string `yaml:"master_key"`
		// Semilla ed25519 (base64) para firmar trust tokens de dispositivos.
		SigningKey string `yaml:"signing_key"`
	} `yaml:"security"`

	Opaque struct {
		// gopaque | mock
		Backend           string `yaml:"backend"`
		AllowInsecureMock bool   `yaml:"allow_insecure_mock"`
		// Clave privada del servidor (kyber scalar, base64). Vacía => se deriva de master_key.
		ServerKey    string `yaml:"server_key"`
		AuthStateTTL string `yaml:"auth_state_ttl"`
		StepTimeout  string `yaml:"step_timeout"`
		MaxAttempts  int    `yaml:"max_attempts"`
	} `yaml:"opaque"`

	Session struct {
		TTL           string `yaml:"ttl"`
		MaxTTL        string `yaml:"max_ttl"`
		CacheTTL      string `yaml:"cache_ttl"`
		CleanupEvery  string `yaml:"cleanup_every"`
		FallbackURL   string `yaml:"fallback_url"`
		FallbackToken string `yaml:"fallback_token"`
	} `yaml:"session"`

	Device struct {
		MaxDevices     int     `yaml:"max_devices"`
		PairingMaxAge  string  `yaml:"pairing_max_age"`
		TrustTTL       string  `yaml:"trust_ttl"`
		TrustThreshold float64 `yaml:"trust_threshold"`
		Issuer         string  `yaml:"issuer"`
	} `yaml:"device"`

	Recovery struct {
		MaxAttempts         int    `yaml:"max_attempts"`
		Window              string `yaml:"window"`
		EmergencyTTL        string `yaml:"emergency_ttl"`
		EmergencyMinDelay   string `yaml:"emergency_min_delay"`
		EmergencySessionTTL string `yaml:"emergency_session_ttl"`
	} `yaml:"recovery"`

	Audit struct {
		PseudonymKey string `yaml:"pseudonym_key"`
		// log | smtp
		Alerter string   `yaml:"alerter"`
		AlertTo []string `yaml:"alert_to"`
	} `yaml:"audit"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		From     string `yaml:"from"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		// auto | starttls | ssl | none
		TLSMode string `yaml:"tls_mode"`
	} `yaml:"smtp"`

	Rate struct {
		Enabled bool    `yaml:"enabled"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"rate"`

	// WebAuthn no se lee del YAML: sale de VAULT_WEBAUTHN_* vía caarlos0/env.
	WebAuthn WebAuthnConfig `yaml:"-"`
}

// WebAuthnConfig configura el autenticador de navegador.
type WebAuthnConfig struct {
	RPID          string        `env:"VAULT_WEBAUTHN_RP_ID" envDefault:"localhost"`
	RPDisplayName string        `env:"VAULT_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"vaultcore"`
	RPOrigins     []string      `env:"VAULT_WEBAUTHN_RP_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	Timeout       time.Duration `env:"VAULT_WEBAUTHN_TIMEOUT" envDefault:"60s"`
}

// Load lee el YAML (opcional: path vacío => sólo defaults + env), aplica env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := env.Parse(&c.WebAuthn); err != nil {
		return nil, fmt.Errorf("config: webauthn env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	def := func(p *string, v string) {
		if strings.TrimSpace(*p) == "" {
			*p = v
		}
	}
	defInt := func(p *int, v int) {
		if *p == 0 {
			*p = v
		}
	}

	def(&c.App.Env, "dev")
	def(&c.App.Name, "vaultcore")
	def(&c.Server.Addr, ":8080")
	def(&c.Server.ReadTimeout, "15s")
	def(&c.Server.WriteTimeout, "15s")
	def(&c.Server.IdempotencyTTL, "10m")
	def(&c.Log.Level, "info")
	def(&c.Storage.Driver, "memory")
	def(&c.Cache.Kind, "memory")
	def(&c.Cache.DefaultTTL, "2m")
	def(&c.Cache.Redis.Prefix, "vault")

	def(&c.Opaque.Backend, "gopaque")
	def(&c.Opaque.AuthStateTTL, "2m")
	def(&c.Opaque.StepTimeout, "10s")
	defInt(&c.Opaque.MaxAttempts, 3)

	def(&c.Session.TTL, "12h")
	def(&c.Session.MaxTTL, "720h")
	def(&c.Session.CacheTTL, "30s")
	def(&c.Session.CleanupEvery, "5m")

	defInt(&c.Device.MaxDevices, 10)
	def(&c.Device.PairingMaxAge, "5m")
	def(&c.Device.TrustTTL, "2160h") // 90d
	if c.Device.TrustThreshold == 0 {
		c.Device.TrustThreshold = 0.5
	}
	def(&c.Device.Issuer, "vaultcore")

	defInt(&c.Recovery.MaxAttempts, 5)
	def(&c.Recovery.Window, "1h")
	def(&c.Recovery.EmergencyTTL, "72h")
	def(&c.Recovery.EmergencyMinDelay, "0s")
	def(&c.Recovery.EmergencySessionTTL, "15m")

	def(&c.Audit.Alerter, "log")
	def(&c.SMTP.TLSMode, "auto")
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}

	if c.Rate.RPS == 0 {
		c.Rate.RPS = 10
	}
	defInt(&c.Rate.Burst, 20)

	if c.Log.Env == "" {
		c.Log.Env = c.App.Env
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvFloat(key string) (float64, bool) {
	if s, ok := getEnvStr(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// applyEnvOverrides: VAULT_* pisa el YAML.
func (c *Config) applyEnvOverrides() {
	str := func(key string, dst *string) {
		if v, ok := getEnvStr(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := getEnvInt(key); ok {
			*dst = v
		}
	}

	if v, ok := getEnvStr("VAULT_APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	str("VAULT_SERVER_ADDR", &c.Server.Addr)
	if v, ok := getEnvCSV("VAULT_SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	str("VAULT_LOG_LEVEL", &c.Log.Level)

	str("VAULT_STORAGE_DRIVER", &c.Storage.Driver)
	str("VAULT_STORAGE_DSN", &c.Storage.DSN)
	num("VAULT_STORAGE_MAX_OPEN_CONNS", &c.Storage.MaxOpenConns)
	if v, ok := getEnvBool("VAULT_STORAGE_AUTO_MIGRATE"); ok {
		c.Storage.AutoMigrate = v
	}

	str("VAULT_CACHE_KIND", &c.Cache.Kind)
	str("VAULT_REDIS_ADDR", &c.Cache.Redis.Addr)
	str("VAULT_REDIS_PASSWORD", &c.Cache.Redis.Password)
	num("VAULT_REDIS_DB", &c.Cache.Redis.DB)

	str("VAULT_MASTER_KEY", &c.Security.MasterKey)
	str("VAULT_SIGNING_KEY", &c.Security.SigningKey)

	str("VAULT_OPAQUE_BACKEND", &c.Opaque.Backend)
	if v, ok := getEnvBool("VAULT_OPAQUE_ALLOW_INSECURE_MOCK"); ok {
		c.Opaque.AllowInsecureMock = v
	}
	str("VAULT_OPAQUE_SERVER_KEY", &c.Opaque.ServerKey)

	str("VAULT_SESSION_TTL", &c.Session.TTL)
	str("VAULT_SESSION_FALLBACK_URL", &c.Session.FallbackURL)
	str("VAULT_SESSION_FALLBACK_TOKEN", &c.Session.FallbackToken)

	num("VAULT_DEVICE_MAX_DEVICES", &c.Device.MaxDevices)
	if v, ok := getEnvFloat("VAULT_DEVICE_TRUST_THRESHOLD"); ok {
		c.Device.TrustThreshold = v
	}

	num("VAULT_RECOVERY_MAX_ATTEMPTS", &c.Recovery.MaxAttempts)
	str("VAULT_RECOVERY_WINDOW", &c.Recovery.Window)

	str("VAULT_AUDIT_PSEUDONYM_KEY", &c.Audit.PseudonymKey)
	str("VAULT_AUDIT_ALERTER", &c.Audit.Alerter)
	if v, ok := getEnvCSV("VAULT_AUDIT_ALERT_TO"); ok {
		c.Audit.AlertTo = v
	}

	str("VAULT_SMTP_HOST", &c.SMTP.Host)
	num("VAULT_SMTP_PORT", &c.SMTP.Port)
	str("VAULT_SMTP_FROM", &c.SMTP.From)
	str("VAULT_SMTP_USERNAME", &c.SMTP.Username)
	str("VAULT_SMTP_PASSWORD", &c.SMTP.Password)

	if v, ok := getEnvBool("VAULT_RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}

	// En prod el mock nunca se habilita por env.
	if strings.EqualFold(c.App.Env, "prod") {
		c.Opaque.AllowInsecureMock = false
	}
}

// Duration parsea un campo ya validado; devuelve def si falla.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return d
}

// ErrInvalid agrupa los errores de Validate.
var ErrInvalid = errors.New("config: invalid")

// Validate controla combinaciones inseguras o incoherentes.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Opaque.Backend {
	case "gopaque":
	case "mock":
		if !c.Opaque.AllowInsecureMock {
			bad("opaque.backend=mock requiere opaque.allow_insecure_mock=true")
		}
	default:
		bad("opaque.backend desconocido: %q", c.Opaque.Backend)
	}
	if c.Opaque.Backend != "mock" && c.Opaque.AllowInsecureMock {
		bad("opaque.allow_insecure_mock sólo tiene sentido con backend=mock")
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			bad("storage.dsn requerido para driver %q", c.Storage.Driver)
		}
	default:
		bad("storage.driver desconocido: %q", c.Storage.Driver)
	}

	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		bad("cache.kind desconocido: %q", c.Cache.Kind)
	}

	for name, v := range map[string]string{
		"server.read_timeout": c.Server.ReadTimeout, "server.write_timeout": c.Server.WriteTimeout,
		"server.idempotency_ttl": c.Server.IdempotencyTTL, "cache.default_ttl": c.Cache.DefaultTTL,
		"opaque.auth_state_ttl": c.Opaque.AuthStateTTL, "opaque.step_timeout": c.Opaque.StepTimeout,
		"session.ttl": c.Session.TTL, "session.max_ttl": c.Session.MaxTTL,
		"session.cache_ttl": c.Session.CacheTTL, "session.cleanup_every": c.Session.CleanupEvery,
		"device.pairing_max_age": c.Device.PairingMaxAge, "device.trust_ttl": c.Device.TrustTTL,
		"recovery.window": c.Recovery.Window, "recovery.emergency_ttl": c.Recovery.EmergencyTTL,
		"recovery.emergency_min_delay":   c.Recovery.EmergencyMinDelay,
		"recovery.emergency_session_ttl": c.Recovery.EmergencySessionTTL,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			bad("%s: duración inválida %q", name, v)
		}
	}

	if c.Device.MaxDevices < 1 {
		bad("device.max_devices debe ser >= 1")
	}
	if c.Device.TrustThreshold < 0 || c.Device.TrustThreshold > 1 {
		bad("device.trust_threshold fuera de [0,1]")
	}
	if c.Opaque.MaxAttempts < 1 {
		bad("opaque.max_attempts debe ser >= 1")
	}
	switch c.Audit.Alerter {
	case "log":
	case "smtp":
		if c.SMTP.Host == "" || len(c.Audit.AlertTo) == 0 {
			bad("audit.alerter=smtp requiere smtp.host y audit.alert_to")
		}
	default:
		bad("audit.alerter desconocido: %q", c.Audit.Alerter)
	}
	return errors.Join(errs...)
}
