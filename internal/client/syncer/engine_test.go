package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/client/storage"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_FirstSyncCreatesMetaGlobalAndUploads(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane", "email": "jane@example.com"})
	require.NoError(t, err)

	rep := a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, PhaseCompleted, rep.Phase())
	assert.Equal(t, []Phase{PhaseAuthenticated, PhaseCollectionsInfoFetched}, rep.Phases()[:2])

	require.NotNil(t, remote.meta)
	assert.Equal(t, common.StorageVersion, remote.meta.StorageVersion)
	assert.Len(t, remote.meta.Engines, len(schema.Collections()))

	assert.Equal(t, 1, rep.Collection(schema.Addresses).Uploaded)
	b, ok := remote.get(schema.Addresses, guid)
	require.True(t, ok)
	assert.NotContains(t, b.Payload, "Jane", "payloads travel encrypted")
	assert.Equal(t, "Jane", auth.open(t, schema.Addresses, b.Payload).Fields["name"])

	rec, err := a.store.Get(ctx, schema.Addresses, guid)
	require.NoError(t, err)
	assert.Zero(t, rec.ChangeCounter)

	last, err := a.store.Metadata().GetInt64(ctx, metadata.LastSyncKey(schema.Addresses))
	require.NoError(t, err)
	assert.Equal(t, b.Modified, last)
}

func TestSync_SecondDeviceReceivesRecords(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	b := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Passwords, models.Fields{
		"origin":   "https://example.com",
		"username": "jane",
		"password": "hunter2",
	})
	require.NoError(t, err)
	a.sync(t)

	bso, ok := remote.get(schema.Passwords, guid)
	require.True(t, ok)
	assert.NotContains(t, bso.Payload, "hunter2")

	rep := b.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, 1, rep.Collection(schema.Passwords).Applied)

	rec, err := b.store.Get(ctx, schema.Passwords, guid)
	require.NoError(t, err)
	assert.Zero(t, rec.ChangeCounter)
	assert.NotEqual(t, "hunter2", rec.Fields["password_enc"])

	pw, err := b.store.Reveal(ctx, schema.Passwords, guid, "password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
}

func TestSync_SkipsUnchangedCollections(t *testing.T) {
	remote := newFakeRemote("t1")
	a := newDevice(t, remote, newFakeAuth("t1"))

	_, err := a.store.Create(context.Background(), schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)
	a.sync(t)
	fetches := len(remote.fetches)

	rep := a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	for _, c := range rep.Collections {
		assert.True(t, c.DownloadSkipped, c.Name)
	}
	assert.Len(t, remote.fetches, fetches)
}

func TestSync_FieldLevelMerge(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	b := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane", "email": "a@example.com"})
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	require.NoError(t, a.store.Update(ctx, schema.Addresses, guid, models.Fields{"name": "Janet"}))
	require.NoError(t, b.store.Update(ctx, schema.Addresses, guid, models.Fields{"email": "b@example.com"}))

	a.sync(t)
	rep := b.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, 1, rep.Collection(schema.Addresses).Applied)
	assert.Equal(t, 1, rep.Collection(schema.Addresses).Uploaded, "merged record goes back up")
	a.sync(t)

	for _, d := range []*device{a, b} {
		rec, err := d.store.Get(ctx, schema.Addresses, guid)
		require.NoError(t, err)
		assert.Equal(t, "Janet", rec.Fields["name"])
		assert.Equal(t, "b@example.com", rec.Fields["email"])
		assert.Zero(t, rec.ChangeCounter)
	}
}

func TestSync_LocalEditSurvivesRemoteDeletion(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	b := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	require.NoError(t, b.store.Update(ctx, schema.Addresses, guid, models.Fields{"tel": "555"}))
	require.NoError(t, a.store.Delete(ctx, schema.Addresses, guid))
	tombs, err := a.store.Tombstones(ctx, schema.Addresses)
	require.NoError(t, err)
	require.Len(t, tombs, 1)

	a.sync(t)
	tombs, err = a.store.Tombstones(ctx, schema.Addresses)
	require.NoError(t, err)
	assert.Empty(t, tombs, "acknowledged tombstones are dropped")
	bso, _ := remote.get(schema.Addresses, guid)
	assert.True(t, auth.open(t, schema.Addresses, bso.Payload).Deleted)

	rep := b.sync(t)
	assert.Equal(t, 1, rep.Collection(schema.Addresses).Uploaded)
	rec, err := b.store.Get(ctx, schema.Addresses, guid)
	require.NoError(t, err)
	assert.Equal(t, "555", rec.Fields["tel"])

	a.sync(t)
	rec, err = a.store.Get(ctx, schema.Addresses, guid)
	require.NoError(t, err)
	assert.Equal(t, "555", rec.Fields["tel"])
}

func TestSync_RemoteDeletionRemovesCleanRecord(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	b := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	require.NoError(t, a.store.Delete(ctx, schema.Addresses, guid))
	a.sync(t)
	b.sync(t)

	_, err = b.store.Get(ctx, schema.Addresses, guid)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	tombs, err := b.store.Tombstones(ctx, schema.Addresses)
	require.NoError(t, err)
	assert.Empty(t, tombs, "remote deletions are not tombstoned locally")
}

func TestSync_HistoryVisitsAreUnioned(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	b := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.History, models.Fields{"url": "https://example.com", "visits": `[{"date":1}]`})
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	require.NoError(t, a.store.Update(ctx, schema.History, guid, models.Fields{"visits": `[{"date":1},{"date":2}]`}))
	require.NoError(t, b.store.Update(ctx, schema.History, guid, models.Fields{"visits": `[{"date":1},{"date":3}]`}))
	a.sync(t)
	b.sync(t)
	a.sync(t)

	for _, d := range []*device{a, b} {
		rec, err := d.store.Get(ctx, schema.History, guid)
		require.NoError(t, err)
		var visits []map[string]any
		require.NoError(t, json.Unmarshal([]byte(rec.Fields.String("visits")), &visits))
		assert.Len(t, visits, 3)
		assert.EqualValues(t, 3, visits[0]["date"], "newest first")
	}
}

func TestSync_AppliesBookmarkParentsFirst(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	ctx := context.Background()

	remote.inject(schema.Bookmarks, "bmk_child001", auth.seal(t, schema.Bookmarks, &models.Payload{
		ID:     "bmk_child001",
		Fields: models.Fields{"parent_guid": "fld_parent01", "kind": "bookmark", "url": "https://example.com"},
	}))
	remote.inject(schema.Bookmarks, "fld_parent01", auth.seal(t, schema.Bookmarks, &models.Payload{
		ID:     "fld_parent01",
		Fields: models.Fields{"parent_guid": "menu________", "kind": "folder", "title": "Work"},
	}))

	rep := a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, 2, rep.Collection(schema.Bookmarks).Applied)

	rec, err := a.store.Get(ctx, schema.Bookmarks, "bmk_child001")
	require.NoError(t, err)
	assert.Equal(t, "fld_parent01", rec.Fields["parent_guid"])
}

func TestSync_QuarantinesInvalidRecordsAndRetries(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	ctx := context.Background()

	remote.inject(schema.Bookmarks, "bmk_orphan01", auth.seal(t, schema.Bookmarks, &models.Payload{
		ID:     "bmk_orphan01",
		Fields: models.Fields{"parent_guid": "fld_missing1", "kind": "bookmark"},
	}))

	rep := a.sync(t)
	assert.Equal(t, StatusPartial, rep.Status)
	cr := rep.Collection(schema.Bookmarks)
	assert.Equal(t, 1, cr.Failed)
	require.Len(t, cr.ValidationFailures, 1)
	assert.Equal(t, "bmk_orphan01", cr.ValidationFailures[0].GUID)

	c, err := schema.Lookup(schema.Bookmarks)
	require.NoError(t, err)
	q := storage.NewRepos(a.store.Writer().DB(), c).Quarantine
	n, err := q.Count(ctx, schema.Bookmarks)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remote.inject(schema.Bookmarks, "fld_missing1", auth.seal(t, schema.Bookmarks, &models.Payload{
		ID:     "fld_missing1",
		Fields: models.Fields{"parent_guid": "toolbar_____", "kind": "folder"},
	}))

	rep = a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, 2, rep.Collection(schema.Bookmarks).Applied)
	last := remote.fetches[len(remote.fetches)-1]
	assert.Equal(t, fetchCall{collection: schema.Bookmarks, since: 0}, last, "quarantine forces a full refetch")

	n, err = q.Count(ctx, schema.Bookmarks)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSync_ReportsDecryptFailures(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)

	stranger := newFakeAuth("t1")
	remote.inject(schema.Addresses, "addr_foreign", stranger.seal(t, schema.Addresses, &models.Payload{
		ID:     "addr_foreign",
		Fields: models.Fields{"name": "Mallory"},
	}))
	remote.inject(schema.Addresses, "addr_good001", auth.seal(t, schema.Addresses, &models.Payload{
		ID:     "addr_good001",
		Fields: models.Fields{"name": "Jane"},
	}))

	rep := a.sync(t)
	assert.Equal(t, StatusPartial, rep.Status)
	cr := rep.Collection(schema.Addresses)
	assert.Equal(t, []string{"addr_foreign"}, cr.DecryptFailures)
	assert.Equal(t, 1, cr.Applied)
}

func TestSync_RefreshesRejectedCredentialsOnce(t *testing.T) {
	remote := newFakeRemote("t2")
	auth := newFakeAuth("t1", "t2")
	a := newDevice(t, remote, auth)

	rep := a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, 1, auth.refreshes)
}

func TestSync_FailsToStartWithoutCredentials(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	auth.err = errors.New("no session")
	a := newDevice(t, remote, auth)

	rep, err := a.engine.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailedToStart, rep.Status)
	assert.Equal(t, []Phase{PhaseFailed}, rep.Phases())
	assert.Contains(t, rep.Error, "no session")
}

func TestSync_RequiresUpgradeForNewerStorage(t *testing.T) {
	remote := newFakeRemote("t1")
	remote.meta = &MetaGlobal{SyncID: "x", StorageVersion: common.StorageVersion + 1}
	a := newDevice(t, remote, newFakeAuth("t1"))

	rep, err := a.engine.Sync(context.Background())
	assert.ErrorIs(t, err, common.ErrClientUpgradeRequired)
	assert.Equal(t, StatusFailedToStart, rep.Status)
}

func TestSync_FetchFailureFailsSession(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	remote.inject(schema.Addresses, "addr_000001", auth.seal(t, schema.Addresses, &models.Payload{ID: "addr_000001"}))
	remote.failFetch = common.ErrUnavailable

	rep, err := a.engine.Sync(context.Background())
	assert.ErrorIs(t, err, common.ErrUnavailable)
	assert.Equal(t, StatusFailed, rep.Status)
	assert.NotEmpty(t, rep.Collection(schema.Addresses).Error)
}

func TestSync_UploadConflictPostponesUpload(t *testing.T) {
	remote := newFakeRemote("t1")
	a := newDevice(t, remote, newFakeAuth("t1"))
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)
	remote.conflicts = 1

	rep := a.sync(t)
	assert.Equal(t, StatusPartial, rep.Status)
	assert.True(t, rep.Collection(schema.Addresses).UploadConflict)
	rec, err := a.store.Get(ctx, schema.Addresses, guid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ChangeCounter)

	rep = a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, 1, rep.Collection(schema.Addresses).Uploaded)
}

func TestSync_RejectedRecordsStayPending(t *testing.T) {
	remote := newFakeRemote("t1")
	a := newDevice(t, remote, newFakeAuth("t1"))
	ctx := context.Background()

	bad, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Too big"})
	require.NoError(t, err)
	_, err = a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Fine"})
	require.NoError(t, err)
	_, err = a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Also fine"})
	require.NoError(t, err)
	remote.reject[bad] = "payload too large"

	rep := a.sync(t)
	assert.Equal(t, StatusPartial, rep.Status)
	cr := rep.Collection(schema.Addresses)
	assert.Equal(t, 2, cr.Uploaded)
	assert.Equal(t, 1, cr.UploadRejected)
	assert.Equal(t, []RecordFailure{{GUID: bad, Reason: "payload too large"}}, cr.UploadFailures)

	rec, err := a.store.Get(ctx, schema.Addresses, bad)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ChangeCounter)
}

func TestSync_InterruptKeepsCommittedWork(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)
	remote.inject(schema.Addresses, "addr_remote1", auth.seal(t, schema.Addresses, &models.Payload{
		ID:     "addr_remote1",
		Fields: models.Fields{"name": "Remote"},
	}))
	remote.onFetch = a.engine.Interrupt

	rep, err := a.engine.Sync(ctx)
	assert.ErrorIs(t, err, common.ErrInterrupted)
	assert.Equal(t, StatusInterrupted, rep.Status)
	assert.Equal(t, PhaseInterrupted, rep.Phase())

	c, _ := schema.Lookup(schema.Addresses)
	staged, err := storage.NewRepos(a.store.Writer().DB(), c).Staging.Incoming(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)

	rec, err := a.store.Get(ctx, schema.Addresses, guid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ChangeCounter)

	remote.onFetch = nil
	rep = a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	_, err = a.store.Get(ctx, schema.Addresses, "addr_remote1")
	assert.NoError(t, err)
}

func TestSync_RejectsConcurrentSessions(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	ctx := context.Background()
	remote.inject(schema.Addresses, "addr_remote1", auth.seal(t, schema.Addresses, &models.Payload{
		ID:     "addr_remote1",
		Fields: models.Fields{"name": "Remote"},
	}))

	var nested *Report
	var nestedErr, resetErr error
	remote.onFetch = func() {
		nested, nestedErr = a.engine.Sync(ctx)
		resetErr = a.engine.ResetSyncState(ctx)
	}

	rep := a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.ErrorIs(t, nestedErr, common.ErrSyncInProgress)
	assert.Equal(t, StatusFailedToStart, nested.Status)
	assert.ErrorIs(t, resetErr, common.ErrSyncInProgress)
}

func TestSync_GlobalSyncIDChangeResetsState(t *testing.T) {
	remote := newFakeRemote("t1")
	a := newDevice(t, remote, newFakeAuth("t1"))
	ctx := context.Background()

	_, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)
	a.sync(t)

	mg := *remote.meta
	mg.SyncID = "new-global-id"
	remote.meta = &mg

	rep := a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.False(t, rep.Collection(schema.Addresses).DownloadSkipped)
	last := remote.fetches[len(remote.fetches)-1]
	assert.Equal(t, int64(0), last.since)

	id, err := a.store.Metadata().Get(ctx, metadata.KeyGlobalSyncID)
	require.NoError(t, err)
	assert.Equal(t, "new-global-id", string(id))
}

func TestSync_CollectionSyncIDChangeResetsCollection(t *testing.T) {
	remote := newFakeRemote("t1")
	a := newDevice(t, remote, newFakeAuth("t1"))
	ctx := context.Background()

	_, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)
	a.sync(t)

	mg := *remote.meta
	mg.Engines = map[string]EngineMeta{}
	for k, v := range remote.meta.Engines {
		mg.Engines[k] = v
	}
	mg.Engines[schema.Addresses] = EngineMeta{Version: 1, SyncID: "new-addresses-id"}
	remote.meta = &mg

	rep := a.sync(t)
	assert.False(t, rep.Collection(schema.Addresses).DownloadSkipped)
	assert.True(t, rep.Collection(schema.Passwords).DownloadSkipped)

	id, err := a.store.Metadata().Get(ctx, metadata.SyncIDKey(schema.Addresses))
	require.NoError(t, err)
	assert.Equal(t, "new-addresses-id", string(id))
}

func TestSync_DeclinedCollectionsAreSkipped(t *testing.T) {
	remote := newFakeRemote("t1")
	remote.meta = &MetaGlobal{SyncID: "g", StorageVersion: common.StorageVersion, Declined: []string{schema.History}}
	a := newDevice(t, remote, newFakeAuth("t1"))

	_, err := a.store.Create(context.Background(), schema.History, models.Fields{"url": "https://example.com"})
	require.NoError(t, err)

	rep := a.sync(t)
	assert.Zero(t, rep.Collection(schema.History).Uploaded)
	assert.NotContains(t, remote.meta.Engines, schema.History)
}

func TestReport_JSON(t *testing.T) {
	remote := newFakeRemote("t1")
	a := newDevice(t, remote, newFakeAuth("t1"))

	rep := a.sync(t)
	raw, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"status":"ok"`), string(raw))
	assert.Contains(t, string(raw), `"phase":"completed"`)
}

func TestSync_DeleteAndRestoreWinsOverRemoteDeletion(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	b := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	require.NoError(t, a.store.Delete(ctx, schema.Addresses, guid))
	a.sync(t)

	require.NoError(t, b.store.Delete(ctx, schema.Addresses, guid))
	require.NoError(t, b.store.Restore(ctx, schema.Addresses, guid, models.Fields{"name": "Jane", "tel": "777"}))

	rep := b.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, 1, rep.Collection(schema.Addresses).Uploaded, "restored record goes back up")

	rec, err := b.store.Get(ctx, schema.Addresses, guid)
	require.NoError(t, err)
	assert.Equal(t, "777", rec.Fields["tel"])
	assert.Zero(t, rec.ChangeCounter)
	tombs, err := b.store.Tombstones(ctx, schema.Addresses)
	require.NoError(t, err)
	assert.Empty(t, tombs)

	bso, ok := remote.get(schema.Addresses, guid)
	require.True(t, ok)
	p := auth.open(t, schema.Addresses, bso.Payload)
	assert.False(t, p.Deleted)
	assert.Equal(t, "777", p.Fields["tel"])

	a.sync(t)
	rec, err = a.store.Get(ctx, schema.Addresses, guid)
	require.NoError(t, err)
	assert.Equal(t, "777", rec.Fields["tel"])
	tombs, err = a.store.Tombstones(ctx, schema.Addresses)
	require.NoError(t, err)
	assert.Empty(t, tombs)
}

func TestSync_DeleteDuringUploadIsPropagated(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	ctx := context.Background()

	guid, err := a.store.Create(ctx, schema.Addresses, models.Fields{"name": "Jane"})
	require.NoError(t, err)

	remote.onUpload = func() {
		remote.onUpload = nil
		require.NoError(t, a.store.Delete(ctx, schema.Addresses, guid))
	}

	rep := a.sync(t)
	assert.Equal(t, 1, rep.Collection(schema.Addresses).Uploaded)
	_, err = a.store.Get(ctx, schema.Addresses, guid)
	require.ErrorIs(t, err, common.ErrorNotFound)
	tombs, err := a.store.Tombstones(ctx, schema.Addresses)
	require.NoError(t, err)
	require.Len(t, tombs, 1, "the accepted record is tombstoned so the deletion is uploaded")
	assert.Equal(t, guid, tombs[0].GUID)

	a.sync(t)
	bso, ok := remote.get(schema.Addresses, guid)
	require.True(t, ok)
	assert.True(t, auth.open(t, schema.Addresses, bso.Payload).Deleted)
	tombs, err = a.store.Tombstones(ctx, schema.Addresses)
	require.NoError(t, err)
	assert.Empty(t, tombs)
}

func injectBookmarkTree(t *testing.T, remote *fakeRemote, auth *fakeAuth) {
	t.Helper()
	remote.inject(schema.Bookmarks, "fld_parent01", auth.seal(t, schema.Bookmarks, &models.Payload{
		ID:     "fld_parent01",
		Fields: models.Fields{"parent_guid": "menu________", "kind": "folder", "title": "Work"},
	}))
	remote.inject(schema.Bookmarks, "bmk_child001", auth.seal(t, schema.Bookmarks, &models.Payload{
		ID:     "bmk_child001",
		Fields: models.Fields{"parent_guid": "fld_parent01", "kind": "bookmark", "url": "https://example.com"},
	}))
}

func TestSync_RemoteFolderDeletionReparentsChildren(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	ctx := context.Background()

	injectBookmarkTree(t, remote, auth)
	a.sync(t)

	remote.inject(schema.Bookmarks, "fld_parent01", auth.seal(t, schema.Bookmarks, models.TombstonePayload("fld_parent01")))
	rep := a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	cr := rep.Collection(schema.Bookmarks)
	assert.Equal(t, 1, cr.Applied)
	assert.Equal(t, 1, cr.Uploaded, "the moved child is uploaded")

	_, err := a.store.Get(ctx, schema.Bookmarks, "fld_parent01")
	require.ErrorIs(t, err, common.ErrorNotFound)
	child, err := a.store.Get(ctx, schema.Bookmarks, "bmk_child001")
	require.NoError(t, err)
	assert.Equal(t, schema.BookmarkUnfiled, child.Fields["parent_guid"])
	assert.Zero(t, child.ChangeCounter)

	bso, ok := remote.get(schema.Bookmarks, "bmk_child001")
	require.True(t, ok)
	assert.Equal(t, schema.BookmarkUnfiled, auth.open(t, schema.Bookmarks, bso.Payload).Fields["parent_guid"])
}

func TestSync_RemoteSubtreeDeletionRemovesChildrenFirst(t *testing.T) {
	remote := newFakeRemote("t1")
	auth := newFakeAuth("t1")
	a := newDevice(t, remote, auth)
	ctx := context.Background()

	injectBookmarkTree(t, remote, auth)
	a.sync(t)

	remote.inject(schema.Bookmarks, "fld_parent01", auth.seal(t, schema.Bookmarks, models.TombstonePayload("fld_parent01")))
	remote.inject(schema.Bookmarks, "bmk_child001", auth.seal(t, schema.Bookmarks, models.TombstonePayload("bmk_child001")))
	rep := a.sync(t)
	assert.Equal(t, StatusOK, rep.Status)
	cr := rep.Collection(schema.Bookmarks)
	assert.Equal(t, 2, cr.Applied)
	assert.Zero(t, cr.Uploaded)

	for _, guid := range []string{"fld_parent01", "bmk_child001"} {
		_, err := a.store.Get(ctx, schema.Bookmarks, guid)
		assert.ErrorIs(t, err, common.ErrorNotFound, guid)
	}
}
