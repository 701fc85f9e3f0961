package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the bridge process.
// All values come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Provider  ProviderConfig
	Calls     CallsConfig
	Dashboard DashboardConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicHost overrides the Host header when building media-stream URLs
	// (useful behind tunnels that rewrite Host).
	PublicHost string
}

const (
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
)

type StoreConfig struct {
	Backend string
	DataDir string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. When Host is empty the call cap is kept in memory.
type RedisConfig struct {
	Host string
	Port int
}

// AuthConfig is optional. When JWTSecret is empty the REST API is open.
type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

type ProviderConfig struct {
	Kind string

	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIVoice  string

	ElevenLabsAPIKey  string
	ElevenLabsAgentID string

	ConnectTimeout time.Duration
}

type CallsConfig struct {
	// MaxConcurrent <= 0 disables the cap.
	MaxConcurrent   int
	CapTTL          time.Duration
	FallbackMessage string
	// LogRetention caps the stored call log; 0 uses the reporting default.
	LogRetention int
}

type DashboardConfig struct {
	QueueSize int
}

// Load reads and validates the full server configuration.
func Load() (Config, error) { return load(true) }

// LoadTooling is Load for CLI commands that never open a provider session,
// so provider credentials are not required.
func LoadTooling() (Config, error) { return load(false) }

func load(requireProvider bool) (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicHost = strings.TrimSpace(os.Getenv("PUBLIC_HOST"))

	c.Store.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	c.Store.DataDir = strings.TrimSpace(os.Getenv("DATA_DIR"))

	if c.Store.Backend == StoreBackendPostgres {
		c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
		{
			n, err := mustInt("DB_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.DB.Port = n
		}
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")

	c.Provider.Kind = strings.ToLower(strings.TrimSpace(os.Getenv("PROVIDER")))
	c.Provider.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.Provider.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	c.Provider.OpenAIVoice = strings.TrimSpace(os.Getenv("OPENAI_VOICE"))
	c.Provider.ElevenLabsAPIKey = os.Getenv("ELEVENLABS_API_KEY")
	c.Provider.ElevenLabsAgentID = strings.TrimSpace(os.Getenv("ELEVENLABS_AGENT_ID"))
	c.Provider.ConnectTimeout = mustDuration("PROVIDER_CONNECT_TIMEOUT")

	{
		n, err := optionalInt("CALLS_MAX_CONCURRENT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Calls.MaxConcurrent = n
	}
	c.Calls.CapTTL = mustDuration("CALLS_CAP_TTL")
	c.Calls.FallbackMessage = strings.TrimSpace(os.Getenv("CALLS_FALLBACK_MESSAGE"))
	{
		n, err := optionalInt("CALLS_LOG_RETENTION")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Calls.LogRetention = n
	}

	{
		n, err := optionalInt("DASHBOARD_QUEUE_SIZE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Dashboard.QueueSize = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.validate(requireProvider); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills in defaults. It uses a pointer
// receiver so callers observe the applied defaults.
func (c *Config) Validate() error { return c.validate(true) }

func (c *Config) validate(requireProvider bool) error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendFile
	}
	switch c.Store.Backend {
	case StoreBackendFile:
		if c.Store.DataDir == "" {
			c.Store.DataDir = "data"
		}
	case StoreBackendPostgres:
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of file, postgres, got %q", c.Store.Backend))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret != "" {
		if c.IsProduction() {
			if c.Auth.JWTIssuer == "" {
				errs = append(errs, errors.New("JWT_ISSUER is required in production"))
			}
			if c.Auth.JWTAudience == "" {
				errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
			}
		}
		if c.Auth.AccessTokenTTL <= 0 {
			c.Auth.AccessTokenTTL = 15 * time.Minute
		}
		if c.Auth.RefreshTokenTTL <= 0 {
			c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
		}
		if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
			errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
		}
	}

	if c.Provider.Kind == "" {
		c.Provider.Kind = ProviderOpenAI
	}
	switch c.Provider.Kind {
	case ProviderOpenAI:
		if requireProvider && c.Provider.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for PROVIDER=openai"))
		}
		if c.Provider.OpenAIModel == "" {
			c.Provider.OpenAIModel = "gpt-4o-realtime-preview-2024-12-17"
		}
		if c.Provider.OpenAIVoice == "" {
			c.Provider.OpenAIVoice = "alloy"
		}
	case ProviderElevenLabs:
		if requireProvider && c.Provider.ElevenLabsAgentID == "" {
			errs = append(errs, errors.New("ELEVENLABS_AGENT_ID is required for PROVIDER=elevenlabs"))
		}
	default:
		errs = append(errs, fmt.Errorf("PROVIDER must be one of openai, elevenlabs, got %q", c.Provider.Kind))
	}
	if c.Provider.ConnectTimeout <= 0 {
		c.Provider.ConnectTimeout = 10 * time.Second
	}

	if c.Calls.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("CALLS_MAX_CONCURRENT must be >= 0, got %d", c.Calls.MaxConcurrent))
	}
	if c.Calls.CapTTL <= 0 {
		// Upper bound on a single call; leaked slots expire after this.
		c.Calls.CapTTL = 2 * time.Hour
	}
	if c.Calls.LogRetention < 0 {
		errs = append(errs, fmt.Errorf("CALLS_LOG_RETENTION must be >= 0, got %d", c.Calls.LogRetention))
	}

	if c.Dashboard.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("DASHBOARD_QUEUE_SIZE must be >= 0, got %d", c.Dashboard.QueueSize))
	}
	if c.Dashboard.QueueSize == 0 {
		c.Dashboard.QueueSize = 100
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
