// Package config reads glconnect settings from the environment and an optional .env file.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/oskeyring"
	"github.com/mscno/glconnect/pkg/session"
	"github.com/mscno/glconnect/pkg/store"
	"github.com/mscno/glconnect/pkg/tokenbox"
)

const (
	BackendMemory    = "memory"
	BackendBolt      = "bolt"
	BackendDatastore = "datastore"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"

	TokenStoreKeyring = "keyring"
	TokenStoreStore   = "store"
)

type StoreConfig struct {
	Backend  string
	BoltPath string
	// DatabaseURL is the postgres DSN.
	DatabaseURL string
	RedisURL    string

	DatastoreProject     string
	DatastoreDatabase    string
	DatastoreCredentials string

	// Key seals access tokens at rest when set.
	Key string
}

type ServerConfig struct {
	Addr        string
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string

	// TrustedProxies are the networks whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
}

type Config struct {
	GitLabBaseURL string
	TokenStore    string
	ImportDelay   time.Duration
	Store         StoreConfig
	Server        ServerConfig
}

// Load reads .env (if present) and then the environment, applying defaults
// and failing on invalid values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		GitLabBaseURL: getEnv("GITLAB_BASE_URL", gitlab.DefaultBaseURL),
		TokenStore:    getEnv("GLCONNECT_TOKEN_STORE", TokenStoreKeyring),
		ImportDelay:   time.Duration(getEnvInt("GLCONNECT_IMPORT_DELAY_MS", 1500)) * time.Millisecond,
		Store: StoreConfig{
			Backend:              getEnv("GLCONNECT_STORE", BackendBolt),
			BoltPath:             getEnv("GLCONNECT_BOLT_PATH", defaultBoltPath()),
			DatabaseURL:          os.Getenv("DATABASE_URL"),
			RedisURL:             os.Getenv("REDIS_URL"),
			DatastoreProject:     os.Getenv("DATASTORE_PROJECT"),
			DatastoreDatabase:    os.Getenv("DATASTORE_DATABASE"),
			DatastoreCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			Key:                  os.Getenv("GLCONNECT_STORE_KEY"),
		},
		Server: ServerConfig{
			Addr:      getEnv("GLCONNECT_ADDR", ":"+getEnv("PORT", "8080")),
			RateLimit: getEnvFloat("GLCONNECT_RATE_LIMIT", 10),
			RateBurst: getEnvInt("GLCONNECT_RATE_BURST", 20),
		},
	}
	if origins := os.Getenv("GLCONNECT_CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.CORSOrigins = append(cfg.Server.CORSOrigins, o)
			}
		}
	}

	if proxies := os.Getenv("GLCONNECT_TRUSTED_PROXIES"); proxies != "" {
		for _, p := range strings.Split(proxies, ",") {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			prefix, err := parsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("invalid GLCONNECT_TRUSTED_PROXIES entry %q: %w", p, err)
			}
			cfg.Server.TrustedProxies = append(cfg.Server.TrustedProxies, prefix)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.GitLabBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid GITLAB_BASE_URL %q: must be an http(s) URL", c.GitLabBaseURL)
	}
	switch c.TokenStore {
	case TokenStoreKeyring, TokenStoreStore:
	default:
		return fmt.Errorf("invalid GLCONNECT_TOKEN_STORE %q: must be keyring or store", c.TokenStore)
	}

	var missing []string
	switch c.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Store.BoltPath == "" {
			missing = append(missing, "GLCONNECT_BOLT_PATH")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		} else if err := validateDatabaseURL(c.Store.DatabaseURL); err != nil {
			return fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
	case BackendRedis:
		if c.Store.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case BackendDatastore:
		if c.Store.DatastoreProject == "" {
			missing = append(missing, "DATASTORE_PROJECT")
		}
	default:
		return fmt.Errorf("invalid GLCONNECT_STORE %q: must be memory, bolt, datastore, postgres or redis", c.Store.Backend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	if c.Store.Key != "" {
		if _, err := tokenbox.ParseKey(c.Store.Key); err != nil {
			return fmt.Errorf("invalid GLCONNECT_STORE_KEY: %w", err)
		}
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("GLCONNECT_RATE_LIMIT and GLCONNECT_RATE_BURST must be positive")
	}
	return nil
}

// OpenStore connects the configured backend and loads the store from it.
func (c *Config) OpenStore(ctx context.Context, logger *slog.Logger) (*store.Store, error) {
	backend, err := c.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	opts := store.Options{
		Backend:  backend,
		Logger:   logger,
		Notifier: store.LogNotifier{Logger: logger},
	}
	if c.Store.Key != "" {
		box, err := tokenbox.ParseKey(c.Store.Key)
		if err != nil {
			backend.Close()
			return nil, err
		}
		opts.Sealer = box
	}
	s, err := store.Open(ctx, opts)
	if err != nil {
		backend.Close()
		return nil, err
	}
	logger.Debug("store opened", "backend", c.Store.Backend)
	return s, nil
}

func (c *Config) openBackend(ctx context.Context) (store.Backend, error) {
	switch c.Store.Backend {
	case BackendBolt:
		if err := os.MkdirAll(filepath.Dir(c.Store.BoltPath), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		return store.NewBoltBackend(c.Store.BoltPath)
	case BackendPostgres:
		return store.NewPostgresBackend(ctx, c.Store.DatabaseURL)
	case BackendRedis:
		return store.NewRedisBackend(ctx, c.Store.RedisURL)
	case BackendDatastore:
		var opts []option.ClientOption
		if c.Store.DatastoreCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(c.Store.DatastoreCredentials))
		}
		client, err := datastore.NewClientWithDatabase(ctx, c.Store.DatastoreProject, c.Store.DatastoreDatabase, opts...)
		if err != nil {
			return nil, fmt.Errorf("create datastore client: %w", err)
		}
		return store.NewDatastoreBackend(client), nil
	}
	return store.NewMemoryBackend(), nil
}

// Tokens picks where the session keeps its token.
func (c *Config) Tokens(s *store.Store) session.TokenStore {
	if c.TokenStore == TokenStoreStore {
		return s
	}
	return oskeyring.NewTokenStore()
}

func defaultBoltPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "glconnect.db"
	}
	return filepath.Join(dir, "glconnect", "glconnect.db")
}

func validateDatabaseURL(dbURL string) error {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("URL must use postgres or postgresql scheme, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// parsePrefix accepts a CIDR or a single address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func getEnv(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
