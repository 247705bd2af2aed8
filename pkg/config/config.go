package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	clog "github.com/mahaj/chatcore/pkg/log"
)

const defaultJWTSecret = "my_secret_key"

const unsetNodeID = -1

// Snowflake node used when node_id is not configured. Processes that insert
// rows get distinct nodes; replicas of one service must set node_id themselves.
var defaultNodeIDs = map[string]int64{
	"api":       1,
	"gateway":   2,
	"messaging": 3,
}

type Config struct {
	Env        string
	Service    string `mapstructure:"-"`
	InstanceID string `mapstructure:"instance_id"`
	NodeID     int64  `mapstructure:"node_id"`
	Server     ServerConfig
	Auth       AuthConfig
	Store      StoreConfig
	Scylla     ScyllaConfig
	Directory  DirectoryConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	WebSocket  WebSocketConfig
	Chat       ChatConfig
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Log        clog.Config

	// NodeIDDefaulted is set when node_id came from defaultNodeIDs.
	NodeIDDefaulted bool `mapstructure:"-"`
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	DevLogin  bool          `mapstructure:"dev_login"`
}

type StoreConfig struct {
	Driver string
}

type ScyllaConfig struct {
	Hosts          string
	Keyspace       string
	Consistency    string
	Timeout        time.Duration
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

func (s ScyllaConfig) HostList() []string { return splitList(s.Hosts) }

type DirectoryConfig struct {
	Driver   string
	DSN      string
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Seed     string
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PresenceKey string        `mapstructure:"presence_key"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
	Enabled     bool
}

type KafkaConfig struct {
	Brokers string
	Topic   string
	GroupID string `mapstructure:"group_id"`
	Enabled bool
}

func (k KafkaConfig) BrokerList() []string { return splitList(k.Brokers) }

type WebSocketConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	EventsPerSec   float64       `mapstructure:"events_per_sec"`
	EventBurst     int           `mapstructure:"event_burst"`
}

// PingPeriod must stay below PongWait.
func (w WebSocketConfig) PingPeriod() time.Duration {
	return (w.PongWait * 9) / 10
}

type ChatConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
}

type RateLimitConfig struct {
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	Burst          int
}

// LoadDotEnv loads a .env file if present.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		clog.L().Debug().Err(err).Msg("no .env file loaded")
	}
}

// Load reads config.yaml (optional) and environment variables. service
// selects the default listen port and log service name.
func Load(service string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	setDefaults(v, service)

	// names used by the docker-compose setup
	_ = v.BindEnv("scylla.hosts", "SCYLLA_HOSTS")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS", "REDIS_ADDR")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("env", "ENV", "APP_ENV")
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("directory.dsn", "DIRECTORY_DSN", "DATABASE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Auth.TokenTTL = parseDuration(v, "auth.token_ttl", 24*time.Hour)
	cfg.Scylla.Timeout = parseDuration(v, "scylla.timeout", 5*time.Second)
	cfg.Scylla.ConnectTimeout = parseDuration(v, "scylla.connect_timeout", 5*time.Second)
	cfg.Directory.CacheTTL = parseDuration(v, "directory.cache_ttl", 5*time.Minute)
	cfg.Redis.PresenceTTL = parseDuration(v, "redis.presence_ttl", 30*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = service
	}
	cfg.Service = service
	if cfg.NodeID == unsetNodeID {
		cfg.NodeID = defaultNodeIDs[service]
		cfg.NodeIDDefaulted = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	port := 8081
	switch service {
	case "gateway":
		port = 8080
	case "messaging":
		port = 8082
	}

	v.SetDefault("env", "dev")
	v.SetDefault("instance_id", "")
	v.SetDefault("node_id", unsetNodeID)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", port)
	v.SetDefault("auth.jwt_secret", defaultJWTSecret)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.dev_login", false)
	v.SetDefault("store.driver", "scylla")
	v.SetDefault("scylla.hosts", "localhost:9042")
	v.SetDefault("scylla.keyspace", "chat")
	v.SetDefault("scylla.consistency", "quorum")
	v.SetDefault("scylla.timeout", "5s")
	v.SetDefault("scylla.connect_timeout", "5s")
	v.SetDefault("directory.driver", "postgres")
	v.SetDefault("directory.dsn", "host=localhost user=postgres password=postgres dbname=chat port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("directory.cache_ttl", "5m")
	v.SetDefault("directory.seed", "")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presence_key", "chat:online")
	v.SetDefault("redis.presence_ttl", "30s")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("kafka.brokers", "localhost:19092")
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("kafka.group_id", "messaging-service-group")
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.events_per_sec", 20)
	v.SetDefault("websocket.event_burst", 40)
	v.SetDefault("chat.max_content_length", 4000)
	v.SetDefault("rate_limit.requests_per_sec", 10)
	v.SetDefault("rate_limit.burst", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "")
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Env != "dev" && c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("auth.jwt_secret must be set outside dev")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is empty")
	}
	switch c.Store.Driver {
	case "scylla", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Directory.Driver {
	case "postgres", "static":
	default:
		return fmt.Errorf("unknown directory driver %q", c.Directory.Driver)
	}
	if c.Store.Driver == "scylla" && len(c.Scylla.HostList()) == 0 {
		return errors.New("scylla.hosts is empty")
	}
	if c.Kafka.Enabled && len(c.Kafka.BrokerList()) == 0 {
		return errors.New("kafka.brokers is empty")
	}
	if c.WebSocket.PongWait <= 0 || c.WebSocket.SendBuffer <= 0 {
		return errors.New("websocket timings and buffers must be positive")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node_id %d out of range", c.NodeID)
	}
	if c.Env != "dev" && c.NodeIDDefaulted && insertsRows(c.Service) {
		return fmt.Errorf("node_id must be set explicitly for %s outside dev", c.Service)
	}
	return nil
}

// insertsRows reports whether service generates message or conversation ids.
func insertsRows(service string) bool {
	return service == "api" || service == "gateway"
}

func parseDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
