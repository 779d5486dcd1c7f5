// ABOUTME: Test helper that starts a Postgres testcontainer with all migrations applied.
// ABOUTME: Use NewTestDB(t) in integration tests that need a real database.
package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/gestaopublica/gestor/internal/store"
	"github.com/gestaopublica/gestor/migrations"
)

// TestDB wraps a Store with fixture helpers. It embeds *store.Store so all
// store methods are directly callable.
type TestDB struct {
	*store.Store
}

// NewTestDB starts a Postgres testcontainer, runs all migrations, and returns
// a TestDB backed by the test DB. The container and pool are cleaned up via t.Cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in -short mode")
	}
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("gestor_test"),
		tcpostgres.WithUsername("gestor_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	if err := migrateUp(connStr); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &TestDB{Store: store.New(pool)}
}

// migrateUp applies the embedded migrations the same way `gestor migrate` does.
func migrateUp(connStr string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	connCfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return err
	}
	// Simple query protocol lets postgres execute multi-statement migration files natively.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MustUser creates an active user with passwordHash (may be empty) or fatals.
func (db *TestDB) MustUser(t *testing.T, email, name, passwordHash string) *store.User {
	t.Helper()
	u, err := db.CreateUser(context.Background(), email, name, passwordHash)
	if err != nil {
		t.Fatalf("CreateUser(%q): %v", email, err)
	}
	return u
}

// MustSuperAdmin creates a user with the super_admin global role or fatals.
func (db *TestDB) MustSuperAdmin(t *testing.T, email string) *store.User {
	t.Helper()
	u := db.MustUser(t, email, "Super "+email, "")
	if err := db.SetGlobalRole(context.Background(), u.ID, store.GlobalRoleSuperAdmin); err != nil {
		t.Fatalf("SetGlobalRole: %v", err)
	}
	u.GlobalRole = store.GlobalRoleSuperAdmin
	return u
}

// MustOrg creates an organization with a random unique code or fatals.
func (db *TestDB) MustOrg(t *testing.T, name string) *store.Organization {
	t.Helper()
	o, err := db.CreateOrg(context.Background(), name, "T-"+uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("CreateOrg(%q): %v", name, err)
	}
	return o
}

// MustMember adds userID to orgID with role or fatals.
func (db *TestDB) MustMember(t *testing.T, orgID, userID uuid.UUID, role string) {
	t.Helper()
	if err := db.CreateMembership(context.Background(), orgID, userID, role); err != nil {
		t.Fatalf("CreateMembership(%s): %v", role, err)
	}
}

// MustSession creates an unexpired session for userID or fatals.
func (db *TestDB) MustSession(t *testing.T, userID uuid.UUID) *store.Session {
	t.Helper()
	s, err := db.CreateSession(context.Background(), userID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}
