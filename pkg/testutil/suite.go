package testutil

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite.
// Call this in TestMain to set up shared test infrastructure.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    if testing.Short() || os.Getenv("EVENTO_SKIP_INTEGRATION") != "" {
//	        os.Exit(m.Run())
//	    }
//	    ctx := context.Background()
//	    s, err := testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    suite = s
//	    code := m.Run()
//	    s.Cleanup(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, rawDB, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("allocation-service-test", "test")

	db, err := database.NewWithDSN(container.DSN, log)
	if err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     rawDB,
		DB:        db,
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}

		globalDB, containerErr = globalContainer.Connect(ctx)
		if containerErr != nil {
			return
		}

		containerErr = globalContainer.ApplyMigrations(ctx, globalDB)
	})

	return globalContainer, globalDB, containerErr
}

// Cleanup tears down the shared container
func (s *IntegrationSuite) Cleanup(ctx context.Context) {
	if s.DB != nil {
		s.DB.Close()
	}
	if s.RawDB != nil {
		s.RawDB.Close()
	}
	if s.Container != nil {
		s.Container.Terminate(ctx)
	}
}

// SkipIfNoIntegration skips a test when integration infrastructure is
// unavailable (short mode, explicit opt-out, or container startup failure).
func SkipIfNoIntegration(t *testing.T, suite *IntegrationSuite) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("EVENTO_SKIP_INTEGRATION") != "" {
		t.Skip("integration tests disabled via EVENTO_SKIP_INTEGRATION")
	}
	if suite == nil {
		t.Skip("integration suite unavailable (no Docker?)")
	}
}

// TruncateAll empties the allocation tables between tests.
func (s *IntegrationSuite) TruncateAll(ctx context.Context, t *testing.T) {
	t.Helper()
	_, err := s.RawDB.ExecContext(ctx, `
		TRUNCATE allocations, team_assignments, serial_units, events, materials, material_snapshots CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}
