// Package bootstrap builds the shared dependencies of the service mains from
// a loaded Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/db"
	"github.com/mahaj/chatcore/pkg/directory"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/snowflake"
	"github.com/mahaj/chatcore/pkg/store"
)

// Deps holds the opened backends. Close releases them in reverse order.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Counters  store.Counters
	Directory directory.Directory
	Redis     redis.UniversalClient

	closers []func() error
}

// Load reads configuration for service and initialises logging.
func Load(service string) (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(service)
	if err != nil {
		return nil, err
	}
	clog.Init(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = fmt.Sprintf("%s-%s-%s", service, host, uuid.NewString()[:8])
	}
	return cfg, nil
}

// Open connects Redis, the directory and the store as configured.
func Open(ctx context.Context, cfg *config.Config) (*Deps, error) {
	d := &Deps{Config: cfg}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			clog.L().Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis unreachable, continuing without cache and presence mirror")
			rdb.Close()
		} else {
			d.Redis = rdb
			d.closers = append(d.closers, rdb.Close)
		}
	}

	if err := d.openDirectory(cfg); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.openStore(cfg); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Deps) openDirectory(cfg *config.Config) error {
	var dir directory.Directory
	switch cfg.Directory.Driver {
	case "static":
		users, err := directory.ParseSeed(cfg.Directory.Seed)
		if err != nil {
			return fmt.Errorf("directory seed: %w", err)
		}
		dir = directory.NewStatic(users...)
		clog.L().Info().Int("users", len(users)).Msg("using static user directory")
	default:
		pg, err := directory.OpenPostgres(cfg.Directory.DSN)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, pg.Close)
		dir = pg
	}
	if d.Redis != nil && cfg.Directory.CacheTTL > 0 {
		dir = directory.NewCached(dir, d.Redis, cfg.Directory.CacheTTL)
	}
	d.Directory = dir
	return nil
}

func (d *Deps) openStore(cfg *config.Config) error {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == "memory" {
		clog.L().Warn().Msg("using in-memory store, data is lost on restart")
		d.Store = store.NewMemory(node)
		d.Counters = store.NewMemoryCounters()
		return nil
	}

	session, err := OpenScylla(cfg)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, func() error { session.Close(); return nil })
	d.Store = store.NewScylla(session, node)
	d.Counters = store.NewScyllaCounters(session)
	return nil
}

// OpenScylla creates the keyspace if needed, connects to it and applies the
// schema.
func OpenScylla(cfg *config.Config) (*db.Session, error) {
	opts := ScyllaOptions(cfg)
	if err := db.CreateKeyspace(opts, 1); err != nil {
		return nil, fmt.Errorf("create keyspace %s: %w", opts.Keyspace, err)
	}
	session, err := db.NewSession(opts)
	if err != nil {
		return nil, err
	}
	if err := session.Migrate(); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

func ScyllaOptions(cfg *config.Config) db.Options {
	return db.Options{
		Hosts:          cfg.Scylla.HostList(),
		Keyspace:       cfg.Scylla.Keyspace,
		Consistency:    cfg.Scylla.Consistency,
		Timeout:        cfg.Scylla.Timeout,
		ConnectTimeout: cfg.Scylla.ConnectTimeout,
	}
}

// Publisher returns a Kafka publisher, or a no-op one when Kafka is disabled.
func Publisher(cfg *config.Config) bus.Publisher {
	if !cfg.Kafka.Enabled {
		return bus.Nop{}
	}
	return bus.NewKafkaPublisher(cfg.Kafka.BrokerList(), cfg.Kafka.Topic)
}

func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
