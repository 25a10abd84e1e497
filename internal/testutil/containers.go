// Package testutil starts shared backing services for integration tests.
// Containers are started once per test binary and reused by every test.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type sharedContainer struct {
	once     sync.Once
	endpoint string
	err      error
}

var (
	redisC    sharedContainer
	mongoC    sharedContainer
	postgresC sharedContainer
	mysqlC    sharedContainer
)

// start runs the container the first time it is requested. Containers are
// reaped by testcontainers' resource reaper when the test binary exits.
func (c *sharedContainer) start(t *testing.T, image, port string, env map[string]string, strategy wait.Strategy) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	c.once.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		opts := []testcontainers.ContainerCustomizer{
			testcontainers.WithExposedPorts(port),
			testcontainers.WithWaitStrategy(strategy),
		}
		if len(env) > 0 {
			opts = append(opts, testcontainers.WithEnv(env))
		}

		ctr, err := testcontainers.Run(ctx, image, opts...)
		if err != nil {
			c.err = err
			return
		}

		endpoint, err := ctr.Endpoint(ctx, "")
		if err != nil {
			_ = ctr.Terminate(context.Background()) // best-effort cleanup
			c.err = err
			return
		}
		c.endpoint = endpoint
	})

	if c.err != nil {
		t.Skipf("%s container unavailable: %v", image, c.err)
	}
	return c.endpoint
}

// RedisAddress returns host:port of a shared Redis container.
func RedisAddress(t *testing.T) string {
	t.Helper()
	return redisC.start(t, "redis:7", "6379/tcp", nil,
		wait.ForAll(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
}

// MongoURI returns a connection URI of a shared MongoDB container.
func MongoURI(t *testing.T) string {
	t.Helper()
	endpoint := mongoC.start(t, "mongo:7", "27017/tcp", nil,
		wait.ForAll(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("Waiting for connections"),
		),
	)
	return fmt.Sprintf("mongodb://%s", endpoint)
}

// PostgresDSN returns a DSN of a shared PostgreSQL container.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	endpoint := postgresC.start(t, "postgres:16", "5432/tcp",
		map[string]string{
			"POSTGRES_USER":     "disturb",
			"POSTGRES_PASSWORD": "disturb",
			"POSTGRES_DB":       "disturb_test",
		},
		wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			// Postgres restarts once after init; the second message is the real one.
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(2*time.Minute),
	)
	return fmt.Sprintf("postgres://disturb:disturb@%s/disturb_test?sslmode=disable", endpoint)
}

// MySQLDSN returns a go-sql-driver DSN of a shared MySQL container.
func MySQLDSN(t *testing.T) string {
	t.Helper()
	endpoint := mysqlC.start(t, "mysql:8.0", "3306/tcp",
		map[string]string{
			"MYSQL_ROOT_PASSWORD": "disturb",
			"MYSQL_DATABASE":      "disturb_test",
		},
		wait.ForAll(
			wait.ForListeningPort("3306/tcp"),
			wait.ForLog("ready for connections").WithOccurrence(2),
		).WithDeadline(3*time.Minute),
	)
	return fmt.Sprintf("root:disturb@tcp(%s)/disturb_test", endpoint)
}
