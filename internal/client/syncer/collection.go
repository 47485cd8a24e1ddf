package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophsync/internal/client/encryption"
	"github.com/dmitrijs2005/gophsync/internal/client/merge"
	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/client/storage"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
)

// incoming is a staged record after decryption.
type incoming struct {
	guid     string
	payload  *models.Payload
	modified int64
}

func (s *session) syncCollection(ctx context.Context, c *schema.Collection, serverTS int64, cr *CollectionReport) error {
	store := s.engine.store
	logger := s.logger.With("collection", c.Name)

	provider, err := s.cred.Keys.ProviderFor(c.Name)
	if err != nil {
		return fmt.Errorf("no key for %s: %w", c.Name, err)
	}
	remote := encryption.NewBoundary(provider)

	meta := store.Metadata()
	lastSync, err := meta.GetInt64(ctx, metadata.LastSyncKey(c.Name))
	if err != nil {
		return err
	}
	quarantined, err := storage.NewRepos(store.Writer().DB(), c).Quarantine.Count(ctx, c.Name)
	if err != nil {
		return err
	}

	if serverTS == lastSync && quarantined == 0 {
		cr.DownloadSkipped = true
		logger.Debug(ctx, "collection unchanged on server", "last_sync", lastSync)
	} else {
		since := lastSync
		if quarantined > 0 {
			since = 0
		}
		ts, err := s.download(ctx, c, remote, since, quarantined > 0, cr)
		if err != nil {
			return err
		}
		lastSync = ts
		if err := meta.SetInt64(ctx, metadata.LastSyncKey(c.Name), lastSync); err != nil {
			return err
		}
	}

	if err := s.enter(PhaseUploading, c.Name); err != nil {
		return err
	}
	return s.upload(ctx, c, remote, lastSync, cr)
}

// download fetches records changed since the given time into staging and
// merges them. It returns the server timestamp to record as last sync.
func (s *session) download(ctx context.Context, c *schema.Collection, remote *encryption.Boundary, since int64, fullRefetch bool, cr *CollectionReport) (int64, error) {
	store := s.engine.store
	if err := s.enter(PhaseDownloading, c.Name); err != nil {
		return 0, err
	}

	res, err := withRefresh(ctx, s, func(cred *Credentials) (*FetchResult, error) {
		return s.engine.transport.Fetch(ctx, cred, c.Name, since)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", c.Name, err)
	}
	cr.Fetched = len(res.Records)

	rows := make([]models.IncomingRow, 0, len(res.Records))
	for _, b := range res.Records {
		rows = append(rows, models.IncomingRow{GUID: b.ID, Payload: b.Payload, ServerModified: b.Modified})
	}
	err = store.Writer().WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		r := storage.NewRepos(tx, c)
		if err := r.Staging.Clear(ctx); err != nil {
			return err
		}
		// a full refetch re-evaluates every quarantined record
		if fullRefetch {
			if err := r.Quarantine.Clear(ctx, c.Name); err != nil {
				return err
			}
		}
		return r.Staging.PutIncoming(ctx, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to stage %s: %w", c.Name, err)
	}

	if err := s.enter(PhaseMerging, c.Name); err != nil {
		return 0, err
	}
	if err := s.mergeStaged(ctx, c, remote, cr); err != nil {
		return 0, err
	}
	return res.Timestamp, nil
}

func (s *session) mergeStaged(ctx context.Context, c *schema.Collection, remote *encryption.Boundary, cr *CollectionReport) error {
	store := s.engine.store
	rows, err := storage.NewRepos(store.Writer().DB(), c).Staging.Incoming(ctx)
	if err != nil {
		return err
	}

	byGUID := make(map[string]incoming, len(rows))
	parents := make(map[string]string)
	var order, deleted []string
	for _, row := range rows {
		p, err := remote.DecryptPayload(row.Payload)
		if err == nil && p.ID != row.GUID {
			err = fmt.Errorf("%w: payload id %q does not match record id", common.ErrDecrypt, p.ID)
		}
		if err != nil {
			s.logger.Warn(ctx, "failed to decrypt incoming record", "collection", c.Name, "guid", row.GUID, "error", err)
			if qerr := s.quarantine(ctx, c, row.GUID, err); qerr != nil {
				return qerr
			}
			cr.DecryptFailures = append(cr.DecryptFailures, row.GUID)
			continue
		}
		byGUID[row.GUID] = incoming{guid: row.GUID, payload: p, modified: row.ServerModified}
		if c.Strategy == schema.Tree && p.Deleted {
			deleted = append(deleted, row.GUID)
			continue
		}
		parents[row.GUID] = p.Fields.String("parent_guid")
		order = append(order, row.GUID)
	}
	if c.Strategy == schema.Tree {
		// deletions go last and children first, so a folder is only
		// removed once the batch is done with its subtree
		deleted, err = childrenFirst(ctx, storage.NewRepos(store.Writer().DB(), c), deleted)
		if err != nil {
			return err
		}
		order = append(merge.ParentsFirst(order, parents), deleted...)
	}

	for _, guid := range order {
		if err := s.intr.check(); err != nil {
			return err
		}
		in := byGUID[guid]
		err := store.Writer().WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			return s.applyIncoming(ctx, storage.NewRepos(tx, c), c, in)
		})
		switch {
		case err == nil:
			cr.Applied++
		case recordLevel(err):
			s.logger.Warn(ctx, "failed to apply incoming record", "collection", c.Name, "guid", guid, "error", err)
			if qerr := s.quarantine(ctx, c, guid, err); qerr != nil {
				return qerr
			}
			cr.Failed++
			cr.ValidationFailures = append(cr.ValidationFailures, RecordFailure{GUID: guid, Reason: err.Error()})
		default:
			return fmt.Errorf("failed to apply %s/%s: %w", c.Name, guid, err)
		}
	}
	return nil
}

// childrenFirst orders deleted tree records by their local parent links,
// deepest first.
func childrenFirst(ctx context.Context, r storage.Repos, guids []string) ([]string, error) {
	parents := make(map[string]string, len(guids))
	for _, guid := range guids {
		rec, err := r.Records.Get(ctx, guid)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		parents[guid] = rec.Fields.String("parent_guid")
	}
	out := merge.ParentsFirst(guids, parents)
	slices.Reverse(out)
	return out, nil
}

// recordLevel reports whether err concerns only the record being applied,
// so the session can quarantine it and go on.
func recordLevel(err error) bool {
	return errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrInvariantViolation) ||
		errors.Is(err, common.ErrDecrypt)
}

func (s *session) quarantine(ctx context.Context, c *schema.Collection, guid string, cause error) error {
	s.logger.Debug(ctx, "record quarantined", "collection", c.Name, "guid", guid, "reason", cause)
	store := s.engine.store
	return store.Writer().WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		r := storage.NewRepos(tx, c)
		if err := r.Quarantine.Put(ctx, models.QuarantineEntry{
			Collection:      c.Name,
			GUID:            guid,
			Reason:          cause.Error(),
			TimeQuarantined: store.Now(),
		}); err != nil {
			return err
		}
		return r.Staging.DeleteIncoming(ctx, guid)
	})
}

// applyIncoming merges one record and writes the result, all inside the
// caller's transaction.
func (s *session) applyIncoming(ctx context.Context, r storage.Repos, c *schema.Collection, in incoming) error {
	local := s.engine.store.Boundary()

	inc := *in.payload
	if !inc.Deleted {
		fields, err := models.Normalize(c, in.guid, inc.Fields, false)
		if err != nil {
			return err
		}
		inc.Fields = fields
	}

	var localRec *models.Record
	stored, err := r.Records.Get(ctx, in.guid)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return err
	default:
		logical, err := local.Reveal(c, stored.Fields)
		if err != nil {
			return err
		}
		if logical, err = models.Normalize(c, in.guid, logical, false); err != nil {
			return err
		}
		localRec = stored.Clone()
		localRec.Fields = logical
	}

	tombstoned, err := r.Records.TombstoneExists(ctx, in.guid)
	if err != nil {
		return err
	}

	var mirror *models.Payload
	mrow, err := r.Mirror.Get(ctx, in.guid)
	if err != nil {
		return err
	}
	if mrow != nil {
		if mirror, err = local.OpenMirror(c, mrow.Payload); err != nil {
			return err
		}
		if mirror.Fields, err = models.Normalize(c, in.guid, mirror.Fields, false); err != nil {
			return err
		}
	}

	out := merge.Merge(merge.Input{
		GUID:           in.guid,
		Strategy:       c.Strategy,
		LogField:       c.LogField,
		Local:          localRec,
		LocalTombstone: tombstoned,
		Mirror:         mirror,
		Incoming:       &inc,
	})
	if len(out.LocalWins) > 0 {
		s.logger.Debug(ctx, "local values kept", "collection", c.Name, "guid", in.guid, "fields", out.LocalWins)
	}

	if c.Strategy == schema.Tree && out.Fields != nil && out.Action != merge.ActionKeepLocal {
		if err := merge.ValidateTree(in.guid, out.Fields, treeLookup(ctx, r)); err != nil {
			return err
		}
	}

	putMirror := func() error {
		sealed, err := local.SealMirror(c, &inc)
		if err != nil {
			return err
		}
		return r.Mirror.Put(ctx, &models.MirrorRow{GUID: in.guid, Payload: sealed, ServerModified: in.modified})
	}
	record := func(counter int64) (*models.Record, error) {
		fields, err := local.Conceal(c, out.Fields)
		if err != nil {
			return nil, err
		}
		return &models.Record{
			GUID:             in.guid,
			Fields:           fields,
			TimeCreated:      out.TimeCreated,
			TimeLastModified: out.TimeLastModified,
			ChangeCounter:    counter,
		}, nil
	}

	switch out.Action {
	case merge.ActionInsert, merge.ActionUndelete:
		if out.Action == merge.ActionUndelete {
			if err := r.Records.RemoveTombstone(ctx, in.guid); err != nil {
				return err
			}
		}
		rec, err := record(0)
		if err != nil {
			return err
		}
		if err := r.Records.Insert(ctx, rec); err != nil {
			return err
		}
		if err := putMirror(); err != nil {
			return err
		}
	case merge.ActionReplace, merge.ActionMerge:
		var counter int64
		if out.Dirty {
			counter = localRec.ChangeCounter
		}
		rec, err := record(counter)
		if err != nil {
			return err
		}
		if err := r.Records.Update(ctx, rec); err != nil {
			return err
		}
		if err := putMirror(); err != nil {
			return err
		}
	case merge.ActionDelete:
		if localRec != nil {
			if err := r.Records.Remove(ctx, in.guid); err != nil {
				return err
			}
		}
		if err := r.Records.RemoveTombstone(ctx, in.guid); err != nil {
			return err
		}
		if err := r.Mirror.Delete(ctx, in.guid); err != nil {
			return err
		}
		if c.Strategy == schema.Tree {
			if err := s.reparentOrphans(ctx, r, c, in.guid); err != nil {
				return err
			}
		}
	case merge.ActionKeepLocal:
		if err := r.Mirror.Delete(ctx, in.guid); err != nil {
			return err
		}
	case merge.ActionKeepTombstone, merge.ActionNone:
	}

	if err := r.Staging.DeleteIncoming(ctx, in.guid); err != nil {
		return err
	}
	return r.Quarantine.Delete(ctx, c.Name, in.guid)
}

// reparentOrphans moves the live children of a removed folder to the
// unfiled root and marks them changed, so the move is uploaded too.
func (s *session) reparentOrphans(ctx context.Context, r storage.Repos, c *schema.Collection, folder string) error {
	children, err := r.Records.FindBy(ctx, "parent_guid", folder)
	if err != nil {
		return err
	}
	now := s.engine.store.Now()
	for _, child := range children {
		child.Fields["parent_guid"] = schema.BookmarkUnfiled
		child.TimeLastModified = now
		if err := r.Records.RecordChanged(ctx, child); err != nil {
			return err
		}
	}
	if len(children) > 0 {
		s.logger.Info(ctx, "orphaned children moved to unfiled", "collection", c.Name, "folder", folder, "count", len(children))
	}
	return nil
}

func treeLookup(ctx context.Context, r storage.Repos) merge.TreeLookup {
	return func(guid string) (merge.TreeNode, bool, error) {
		rec, err := r.Records.Get(ctx, guid)
		if errors.Is(err, common.ErrorNotFound) {
			return merge.TreeNode{}, false, nil
		}
		if err != nil {
			return merge.TreeNode{}, false, err
		}
		return merge.TreeNode{Parent: rec.Fields.String("parent_guid"), Kind: rec.Fields.String("kind")}, true, nil
	}
}

// upload queues every pending local change in outgoing staging, sends it
// in batches and acknowledges what the server accepted.
func (s *session) upload(ctx context.Context, c *schema.Collection, remote *encryption.Boundary, lastSync int64, cr *CollectionReport) error {
	store := s.engine.store
	logger := s.logger.With("collection", c.Name)

	if err := store.Writer().WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.stageOutgoing(ctx, storage.NewRepos(tx, c), c)
	}); err != nil {
		return fmt.Errorf("failed to stage outgoing %s: %w", c.Name, err)
	}

	rows, err := storage.NewRepos(store.Writer().DB(), c).Staging.Outgoing(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	local := store.Boundary()
	ius := lastSync
	complete := true
	for batch := range slices.Chunk(rows, s.engine.cfg.UploadBatchSize) {
		if err := s.intr.check(); err != nil {
			return err
		}

		bsos := make([]models.BSO, 0, len(batch))
		for _, row := range batch {
			p, err := local.OpenMirror(c, row.Payload)
			if err != nil {
				return err
			}
			env, err := remote.EncryptPayload(p)
			if err != nil {
				return err
			}
			bsos = append(bsos, models.BSO{ID: row.GUID, Payload: env})
		}

		res, err := withRefresh(ctx, s, func(cred *Credentials) (*UploadResult, error) {
			return s.engine.transport.Upload(ctx, cred, c.Name, ius, bsos)
		})
		if errors.Is(err, common.ErrConflict) {
			logger.Info(ctx, "collection changed on server during sync, upload postponed")
			cr.UploadConflict = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", c.Name, err)
		}

		for _, guid := range res.Accepted {
			err := store.Writer().WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
				return acknowledge(ctx, storage.NewRepos(tx, c), guid, res.Timestamp, store.Now())
			})
			if err != nil {
				return fmt.Errorf("failed to acknowledge %s/%s: %w", c.Name, guid, err)
			}
			cr.Uploaded++
		}
		for guid, reason := range res.Rejected {
			logger.Warn(ctx, "record rejected by server", "guid", guid, "reason", reason)
			cr.UploadRejected++
			cr.UploadFailures = append(cr.UploadFailures, RecordFailure{GUID: guid, Reason: reason})
			complete = false
		}
		ius = res.Timestamp
	}

	if complete {
		return store.Metadata().SetInt64(ctx, metadata.LastSyncKey(c.Name), ius)
	}
	return nil
}

func (s *session) stageOutgoing(ctx context.Context, r storage.Repos, c *schema.Collection) error {
	local := s.engine.store.Boundary()
	if err := r.Staging.Clear(ctx); err != nil {
		return err
	}

	stage := func(rec *models.Record, counter int64) error {
		logical, err := local.Reveal(c, rec.Fields)
		if err != nil {
			return err
		}
		sealed, err := local.SealMirror(c, &models.Payload{
			ID:               rec.GUID,
			Fields:           logical,
			TimeCreated:      rec.TimeCreated,
			TimeLastModified: rec.TimeLastModified,
		})
		if err != nil {
			return err
		}
		return r.Staging.PutOutgoing(ctx, models.OutgoingRow{GUID: rec.GUID, Payload: sealed, Counter: counter})
	}

	for pc, err := range r.Records.PendingChanges(ctx) {
		if err != nil {
			return err
		}
		if err := stage(pc.Record, pc.Counter); err != nil {
			return err
		}
	}

	unmirrored, err := r.Records.Unmirrored(ctx)
	if err != nil {
		return err
	}
	for _, rec := range unmirrored {
		if err := stage(rec, 0); err != nil {
			return err
		}
	}

	tombstones, err := r.Records.Tombstones(ctx)
	if err != nil {
		return err
	}
	for _, t := range tombstones {
		sealed, err := local.SealMirror(c, models.TombstonePayload(t.GUID))
		if err != nil {
			return err
		}
		if err := r.Staging.PutOutgoing(ctx, models.OutgoingRow{GUID: t.GUID, Payload: sealed, Tombstone: true}); err != nil {
			return err
		}
	}
	return nil
}

// acknowledge records that the server stored the queued row for guid.
func acknowledge(ctx context.Context, r storage.Repos, guid string, modified, now int64) error {
	row, err := r.Staging.GetOutgoing(ctx, guid)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	if row.Tombstone {
		if err := r.Records.RemoveTombstone(ctx, guid); err != nil {
			return err
		}
		if err := r.Mirror.Delete(ctx, guid); err != nil {
			return err
		}
	} else {
		if err := r.Mirror.Put(ctx, &models.MirrorRow{GUID: guid, Payload: row.Payload, ServerModified: modified}); err != nil {
			return err
		}
		if err := markSyncedOrTombstone(ctx, r, guid, row.Counter, now); err != nil {
			return err
		}
	}
	return r.Staging.DeleteOutgoing(ctx, guid)
}

// markSyncedOrTombstone settles the local row after the server accepted it.
// A row deleted locally while the upload was in flight had no mirror at
// delete time and left no tombstone; now that the server holds it, a
// tombstone is needed for the deletion to be uploaded.
func markSyncedOrTombstone(ctx context.Context, r storage.Repos, guid string, counter, now int64) error {
	live, err := r.Records.Exists(ctx, guid)
	if err != nil {
		return err
	}
	if live {
		return r.Records.MarkSynced(ctx, guid, counter)
	}
	tombstoned, err := r.Records.TombstoneExists(ctx, guid)
	if err != nil || tombstoned {
		return err
	}
	return r.Records.InsertTombstone(ctx, guid, now)
}
