// Package common holds fixtures shared by the integration tests.
package common

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Credentials and namespace of the test server.
const (
	SurrealUser      = "root"
	SurrealPass      = "root"
	SurrealNamespace = "provsync_test"
)

const surrealImage = "surrealdb/surrealdb:v3.0.0"

// PROVSYNC_TEST_SURREAL points the tests at a running server instead of a
// container, e.g. ws://localhost:8000/rpc.
const surrealEnv = "PROVSYNC_TEST_SURREAL"

// SurrealServer is a SurrealDB instance shared by every test in the process.
type SurrealServer struct {
	Endpoint  string // websocket RPC URL
	Namespace string
	container testcontainers.Container
}

var shared struct {
	once   sync.Once
	server *SurrealServer
	err    error
}

// SharedSurreal returns the process-wide server, starting a container on
// first use. Short test runs skip.
func SharedSurreal(t testing.TB) *SurrealServer {
	t.Helper()
	if testing.Short() {
		t.Skip("SurrealDB integration test skipped in short mode")
	}

	shared.once.Do(func() {
		if endpoint := os.Getenv(surrealEnv); endpoint != "" {
			shared.server = &SurrealServer{Endpoint: endpoint, Namespace: SurrealNamespace}
			return
		}
		shared.server, shared.err = startSurreal(context.Background())
	})
	if shared.err != nil {
		t.Fatalf("SurrealDB unavailable: %v", shared.err)
	}
	return shared.server
}

func startSurreal(ctx context.Context) (*SurrealServer, error) {
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        surrealImage,
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--user", SurrealUser, "--pass", SurrealPass, "memory"},
			WaitingFor:   wait.ForHTTP("/health").WithPort("8000/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	endpoint, err := ctr.PortEndpoint(ctx, "8000/tcp", "ws")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to resolve endpoint: %w", err)
	}
	return &SurrealServer{Endpoint: endpoint + "/rpc", Namespace: SurrealNamespace, container: ctr}, nil
}

// DatabaseName derives a database name unique to t. SurrealDB rejects the
// slashes subtests put in their names.
func DatabaseName(t testing.TB) string {
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	return fmt.Sprintf("t_%s_%d", name, time.Now().UnixNano()%1_000_000)
}

// StopShared terminates the container, if this process started one.
func StopShared() {
	if s := shared.server; s != nil && s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}
