package services

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	bsosrepo "github.com/dmitrijs2005/gophsync/internal/server/repositories/bsos"
	refreshtokensrepo "github.com/dmitrijs2005/gophsync/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/gophsync/internal/server/repositories/users"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

type fakeUsersRepo struct {
	createOut *models.User
	createErr error

	getOut *models.User
	getErr error

	clock    map[string]int64
	touchErr error
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createOut, nil
}

func (f *fakeUsersRepo) GetUserByLogin(ctx context.Context, userName string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

func (f *fakeUsersRepo) Touch(ctx context.Context, userID string, now int64) (int64, error) {
	if f.touchErr != nil {
		return 0, f.touchErr
	}
	if f.clock == nil {
		f.clock = map[string]int64{}
	}
	f.clock[userID] = max(f.clock[userID]+1, now)
	return f.clock[userID], nil
}

type fakeRefreshRepo struct {
	findOut *models.RefreshToken
	findErr error

	delErr error

	createErr error
	created   []string

	expiredErr   error
	expiredCalls int
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID string, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, token)
	return nil
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	return f.delErr
}

func (f *fakeRefreshRepo) DeleteExpired(ctx context.Context, userID string, now time.Time) error {
	f.expiredCalls++
	return f.expiredErr
}

// fakeBSORepo keeps records in memory keyed by user, collection and id.
type fakeBSORepo struct {
	rows map[[3]string]models.BSO
	err  error
}

func newFakeBSORepo() *fakeBSORepo {
	return &fakeBSORepo{rows: map[[3]string]models.BSO{}}
}

func (f *fakeBSORepo) InfoCollections(ctx context.Context, userID string) (map[string]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]int64{}
	for _, b := range f.rows {
		if b.UserID == userID && b.Modified > out[b.Collection] {
			out[b.Collection] = b.Modified
		}
	}
	return out, nil
}

func (f *fakeBSORepo) CollectionModified(ctx context.Context, userID, collection string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var m int64
	for _, b := range f.rows {
		if b.UserID == userID && b.Collection == collection {
			m = max(m, b.Modified)
		}
	}
	return m, nil
}

func (f *fakeBSORepo) Since(ctx context.Context, userID, collection string, since int64) ([]models.BSO, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.BSO
	for _, b := range f.rows {
		if b.UserID == userID && b.Collection == collection && b.Modified > since {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified != out[j].Modified {
			return out[i].Modified < out[j].Modified
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeBSORepo) Get(ctx context.Context, userID, collection, id string) (*models.BSO, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.rows[[3]string{userID, collection, id}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &b, nil
}

func (f *fakeBSORepo) Upsert(ctx context.Context, bso *models.BSO) error {
	if f.err != nil {
		return f.err
	}
	f.rows[[3]string{bso.UserID, bso.Collection, bso.ID}] = *bso
	return nil
}

func (f *fakeBSORepo) ListAll(ctx context.Context, userID string) ([]models.BSO, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.BSO
	for _, b := range f.rows {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeBSORepo) DeleteAll(ctx context.Context, userID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for k, b := range f.rows {
		if b.UserID == userID {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
	b *fakeBSORepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error           { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }
func (m *fakeRepoManager) BSOs(db dbx.DBTX) bsosrepo.Repository                   { return m.b }
