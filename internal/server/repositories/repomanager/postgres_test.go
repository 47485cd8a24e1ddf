package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/bsos"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/users"
	"github.com/pressly/goose/v3"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db := newDB(t)
	m := NewPostgresRepositoryManager()

	if _, ok := m.Users(db).(*users.PostgresRepository); !ok {
		t.Fatal("Users() is not a postgres repository")
	}
	if _, ok := m.RefreshTokens(db).(*refreshtokens.PostgresRepository); !ok {
		t.Fatal("RefreshTokens() is not a postgres repository")
	}
	if _, ok := m.BSOs(db).(*bsos.PostgresRepository); !ok {
		t.Fatal("BSOs() is not a postgres repository")
	}
}

func TestRunMigrations(t *testing.T) {
	tests := []struct {
		name    string
		upErr   error
		wantErr bool
	}{
		{name: "ok"},
		{name: "goose fails", upErr: errors.New("boom"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newDB(t)

			orig := gooseUpContext
			t.Cleanup(func() { gooseUpContext = orig })

			var gotDir string
			gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
				gotDir = dir
				return tt.upErr
			}

			err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RunMigrations error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotDir != "." {
				t.Fatalf("migrations dir = %q", gotDir)
			}
		})
	}
}
