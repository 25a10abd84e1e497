package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	// SQL drivers used by the sqlite, postgres and mysql adapters.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Usage selects which namespace of a storage backend is opened.
type Usage string

const (
	UsageContext    Usage = "context"
	UsageMonitoring Usage = "monitoring"
)

// Adapter names accepted by Open.
const (
	AdapterMemory   = "memory"
	AdapterSQLite   = "sqlite"
	AdapterPostgres = "postgres"
	AdapterMySQL    = "mysql"
	AdapterRedis    = "redis"
	AdapterMongo    = "mongo"
	AdapterNATS     = "nats"
	AdapterDiskv    = "diskv"
)

// requiredFields lists, per adapter, the storage configuration keys that
// must be present.
var requiredFields = map[string][]string{
	AdapterMemory:   nil,
	AdapterSQLite:   {"dsn"},
	AdapterPostgres: {"dsn"},
	AdapterMySQL:    {"dsn"},
	AdapterRedis:    {"host"},
	AdapterMongo:    {"host"},
	AdapterNATS:     {"host"},
	AdapterDiskv:    {"path"},
}

// Adapters returns the supported adapter names, sorted.
func Adapters() []string {
	out := make([]string, 0, len(requiredFields))
	for name := range requiredFields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateConfig checks that adapter is known and that cfg holds the fields
// it requires.
func ValidateConfig(adapter string, cfg map[string]any) error {
	if adapter == "" {
		return &Error{Kind: KindConfig, Op: "open", Err: errors.New("adapter name not found")}
	}
	fields, ok := requiredFields[adapter]
	if !ok {
		return &Error{Kind: KindConfig, Op: "open", Err: fmt.Errorf("unknown adapter %q", adapter)}
	}
	for _, f := range fields {
		if configString(cfg, f) == "" {
			return &Error{Kind: KindConfig, Op: "open", Err: fmt.Errorf("adapter %q: missing config field %q", adapter, f)}
		}
	}
	return nil
}

// memoryBackends keeps one in-memory backend per namespace so that every
// Open of the memory adapter in a process shares the same documents.
var (
	memoryMu       sync.Mutex
	memoryBackends = map[string]*MemoryBackend{}
)

func sharedMemoryBackend(ns string) *MemoryBackend {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	b, ok := memoryBackends[ns]
	if !ok {
		b = NewMemoryBackend()
		memoryBackends[ns] = b
	}
	return b
}

// Open builds the backend named by adapter from cfg and returns a Store over
// it. The usage selects the namespace: monitoring documents live next to
// workflow contexts under "<index>_monitoring". The backend is pinged before
// Open returns.
func Open(ctx context.Context, adapter string, cfg map[string]any, usage Usage, opts ...Option) (*Store, error) {
	if err := ValidateConfig(adapter, cfg); err != nil {
		return nil, err
	}
	index := configString(cfg, "index")
	if index == "" {
		index = DefaultIndex
	}
	switch usage {
	case UsageContext, "":
	case UsageMonitoring:
		index += "_monitoring"
	default:
		return nil, &Error{Kind: KindInvalidParameter, Op: "open", Err: fmt.Errorf("unknown usage %q", usage)}
	}

	b, err := openBackend(ctx, adapter, cfg, index)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "open " + adapter, Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := b.Ping(pingCtx); err != nil {
		_ = b.Close()
		return nil, &Error{Kind: KindUnavailable, Op: "open " + adapter, Err: fmt.Errorf("host not available: %w", err)}
	}
	return NewStore(b, opts...), nil
}

func openBackend(ctx context.Context, adapter string, cfg map[string]any, index string) (Backend, error) {
	switch adapter {
	case AdapterMemory:
		return sharedMemoryBackend(index), nil

	case AdapterSQLite:
		db, err := sql.Open("sqlite", configString(cfg, "dsn"))
		if err != nil {
			return nil, err
		}
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY
		// within a store, the busy timeout covers stores sharing a file.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return closeOnError(db, func() (Backend, error) { return NewSQLiteBackend(ctx, db, index) })

	case AdapterPostgres:
		db, err := sql.Open("pgx", configString(cfg, "dsn"))
		if err != nil {
			return nil, err
		}
		return closeOnError(db, func() (Backend, error) { return NewPostgresBackend(ctx, db, index) })

	case AdapterMySQL:
		db, err := sql.Open("mysql", configString(cfg, "dsn"))
		if err != nil {
			return nil, err
		}
		return closeOnError(db, func() (Backend, error) { return NewMySQLBackend(ctx, db, index) })

	case AdapterRedis:
		opt, err := redisOptions(configString(cfg, "host"))
		if err != nil {
			return nil, err
		}
		return NewRedisBackend(redis.NewClient(opt), index+":"), nil

	case AdapterMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(configString(cfg, "host")))
		if err != nil {
			return nil, err
		}
		db := configString(cfg, "database")
		if db == "" {
			db = "disturb"
		}
		return NewMongoBackend(client, db, index), nil

	case AdapterNATS:
		nc, err := nats.Connect(configString(cfg, "host"))
		if err != nil {
			return nil, err
		}
		b, err := NewNATSBackend(ctx, nc, index)
		if err != nil {
			nc.Close()
			return nil, err
		}
		return b, nil

	case AdapterDiskv:
		return NewDiskvBackend(configString(cfg, "path"), index), nil
	}
	return nil, fmt.Errorf("unknown adapter %q", adapter)
}

func closeOnError(db *sql.DB, build func() (Backend, error)) (Backend, error) {
	b, err := build()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(host string) (*redis.Options, error) {
	if opt, err := redis.ParseURL(host); err == nil {
		return opt, nil
	}
	return &redis.Options{Addr: host}, nil
}

func configString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	v, ok := cfg[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
