package syncer

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/dmitrijs2005/gophsync/internal/client/encryption"
	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/storage"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/cryptox"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/stretchr/testify/require"
)

// fakeRemote is an in-memory remote store with the server's timestamp and
// precondition rules.
type fakeRemote struct {
	mu       sync.Mutex
	token    string
	clock    int64
	records  map[string]map[string]models.BSO
	modified map[string]int64
	meta     *MetaGlobal

	reject    map[string]string
	conflicts int
	fetches   []fetchCall
	onFetch   func()
	onUpload  func()
	failFetch error
}

type fetchCall struct {
	collection string
	since      int64
}

func newFakeRemote(token string) *fakeRemote {
	return &fakeRemote{
		token:    token,
		clock:    1000,
		records:  map[string]map[string]models.BSO{},
		modified: map[string]int64{},
		reject:   map[string]string{},
	}
}

func (r *fakeRemote) authorize(cred *Credentials) error {
	if cred == nil || cred.Token != r.token {
		return common.ErrorUnauthorized
	}
	return nil
}

func (r *fakeRemote) InfoCollections(_ context.Context, cred *Credentials) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorize(cred); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(r.modified))
	for k, v := range r.modified {
		out[k] = v
	}
	return out, nil
}

func (r *fakeRemote) MetaGlobal(_ context.Context, cred *Credentials) (*MetaGlobal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorize(cred); err != nil {
		return nil, err
	}
	if r.meta == nil {
		return nil, common.ErrorNotFound
	}
	mg := *r.meta
	return &mg, nil
}

func (r *fakeRemote) PutMetaGlobal(_ context.Context, cred *Credentials, mg *MetaGlobal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorize(cred); err != nil {
		return err
	}
	cp := *mg
	r.meta = &cp
	return nil
}

func (r *fakeRemote) Fetch(ctx context.Context, cred *Credentials, collection string, since int64) (*FetchResult, error) {
	if hook := r.onFetch; hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorize(cred); err != nil {
		return nil, err
	}
	if r.failFetch != nil {
		return nil, r.failFetch
	}
	r.fetches = append(r.fetches, fetchCall{collection: collection, since: since})

	res := &FetchResult{Timestamp: r.modified[collection]}
	for _, b := range r.records[collection] {
		if b.Modified > since {
			res.Records = append(res.Records, b)
		}
	}
	sort.Slice(res.Records, func(i, j int) bool {
		if res.Records[i].Modified != res.Records[j].Modified {
			return res.Records[i].Modified < res.Records[j].Modified
		}
		return res.Records[i].ID < res.Records[j].ID
	})
	return res, nil
}

func (r *fakeRemote) Upload(ctx context.Context, cred *Credentials, collection string, ius int64, records []models.BSO) (*UploadResult, error) {
	if hook := r.onUpload; hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorize(cred); err != nil {
		return nil, err
	}
	if r.conflicts > 0 {
		r.conflicts--
		return nil, common.ErrConflict
	}
	if r.modified[collection] > ius {
		return nil, common.ErrConflict
	}

	r.clock++
	res := &UploadResult{Rejected: map[string]string{}, Timestamp: r.clock}
	for _, b := range records {
		if reason, ok := r.reject[b.ID]; ok {
			res.Rejected[b.ID] = reason
			continue
		}
		r.store(collection, models.BSO{ID: b.ID, Payload: b.Payload, Modified: r.clock})
		res.Accepted = append(res.Accepted, b.ID)
	}
	if len(res.Accepted) == 0 {
		r.clock--
		res.Timestamp = r.modified[collection]
	}
	return res, nil
}

func (r *fakeRemote) store(collection string, b models.BSO) {
	if r.records[collection] == nil {
		r.records[collection] = map[string]models.BSO{}
	}
	r.records[collection][b.ID] = b
	r.modified[collection] = b.Modified
}

// inject stores a record written by some other client.
func (r *fakeRemote) inject(collection, guid, envelope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock++
	r.store(collection, models.BSO{ID: guid, Payload: envelope, Modified: r.clock})
}

func (r *fakeRemote) get(collection, guid string) (models.BSO, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.records[collection][guid]
	return b, ok
}

// fakeAuth hands out a token and collection keys derived from one account
// key.
type fakeAuth struct {
	mu        sync.Mutex
	tokens    []string
	refreshes int
	err       error
	keys      *accountKeys
}

func newFakeAuth(tokens ...string) *fakeAuth {
	return &fakeAuth{tokens: tokens, keys: &accountKeys{master: common.GenerateRandByteArray(cryptox.KeySize)}}
}

func (a *fakeAuth) Credentials(context.Context) (*Credentials, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return &Credentials{Token: a.tokens[0], Keys: a.keys}, nil
}

func (a *fakeAuth) Refresh(context.Context) (*Credentials, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	if len(a.tokens) > 1 {
		a.tokens = a.tokens[1:]
	}
	return &Credentials{Token: a.tokens[0], Keys: a.keys}, nil
}

type accountKeys struct {
	master []byte
}

func (k *accountKeys) ProviderFor(collection string) (encryption.Provider, error) {
	sub, err := cryptox.DeriveSubkey(k.master, collection)
	if err != nil {
		return nil, err
	}
	return cryptox.NewCipher(sub)
}

// seal encrypts p the way another client of the same account would.
func (a *fakeAuth) seal(t *testing.T, collection string, p *models.Payload) string {
	t.Helper()
	provider, err := a.keys.ProviderFor(collection)
	require.NoError(t, err)
	env, err := encryption.NewBoundary(provider).EncryptPayload(p)
	require.NoError(t, err)
	return env
}

func (a *fakeAuth) open(t *testing.T, collection, envelope string) *models.Payload {
	t.Helper()
	provider, err := a.keys.ProviderFor(collection)
	require.NoError(t, err)
	p, err := encryption.NewBoundary(provider).DecryptPayload(envelope)
	require.NoError(t, err)
	return p
}

type device struct {
	store  *storage.Store
	engine *Engine
}

// newDevice opens a fresh store with its own local key and wires an
// engine to the shared remote.
func newDevice(t *testing.T, remote *fakeRemote, auth *fakeAuth) *device {
	t.Helper()
	cipher, err := cryptox.NewCipher(common.GenerateRandByteArray(cryptox.KeySize))
	require.NoError(t, err)

	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "store.db"), encryption.NewBoundary(cipher), logging.Nop{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &device{
		store:  store,
		engine: NewEngine(store, auth, remote, Config{UploadBatchSize: 2}, logging.Nop{}),
	}
}

func (d *device) sync(t *testing.T) *Report {
	t.Helper()
	r, err := d.engine.Sync(context.Background())
	require.NoError(t, err)
	return r
}
