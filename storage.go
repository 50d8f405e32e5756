package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orian/configdesk/logger"
	"github.com/orian/configdesk/models"
)

// HistorySuffix names the version trail of a collection.
const HistorySuffix = "_version_control"

const defaultConflictRetries = 3

// DocumentRepository is a versioned document collection stored in the
// documents and document_versions tables. All collections share the two
// tables and are told apart by their collection column.
type DocumentRepository struct {
	conn       *StoreConnector
	collection string
	history    string

	now         func() time.Time
	sinks       []models.CommitSink
	commitLocks *keyedMutex
	retries     int
	log         *logger.Logger
}

// RepositoryOption configures a DocumentRepository.
type RepositoryOption func(*DocumentRepository)

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *DocumentRepository) { r.now = now }
}

// WithCommitSinks adds sinks notified after every successful commit.
func WithCommitSinks(sinks ...models.CommitSink) RepositoryOption {
	return func(r *DocumentRepository) { r.sinks = append(r.sinks, sinks...) }
}

// WithLogger sets the repository logger.
func WithLogger(log *logger.Logger) RepositoryOption {
	return func(r *DocumentRepository) { r.log = log }
}

// WithConflictRetries bounds how often a commit or update that hit a
// write conflict is retried. Negative values are ignored.
func WithConflictRetries(n int) RepositoryOption {
	return func(r *DocumentRepository) {
		if n >= 0 {
			r.retries = n
		}
	}
}

func NewDocumentRepository(conn *StoreConnector, collection string, opts ...RepositoryOption) *DocumentRepository {
	r := &DocumentRepository{
		conn:        conn,
		collection:  collection,
		history:     collection + HistorySuffix,
		now:         time.Now,
		commitLocks: newKeyedMutex(),
		retries:     defaultConflictRetries,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("collection", collection)
	return r
}

// Collection is the live collection name.
func (r *DocumentRepository) Collection() string { return r.collection }

// HistoryCollection is the version trail collection name.
func (r *DocumentRepository) HistoryCollection() string { return r.history }

func (r *DocumentRepository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func (r *DocumentRepository) Find(ctx context.Context, filter models.Filter) ([]models.Document, error) {
	d := r.conn.Dialect()
	where, args, err := whereClause(d, liveColumns, filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT oid, doc_id, body, last_modify FROM documents WHERE collection = ?"
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY seq ASC"

	var docs []models.Document
	err = r.conn.Do(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, d.Rebind(query), append([]any{r.collection}, args...)...)
		if err != nil {
			return fmt.Errorf("find in %s failed: %w", r.collection, err)
		}
		defer rows.Close()

		docs = []models.Document{}
		for rows.Next() {
			doc, err := scanLiveDocument(rows)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLiveDocument(row rowScanner) (models.Document, error) {
	var oid, body string
	var docID sql.NullString
	var lastModify time.Time
	if err := row.Scan(&oid, &docID, &body, &lastModify); err != nil {
		return nil, err
	}
	doc, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	doc[models.FieldOID] = oid
	if docID.Valid {
		doc[models.FieldID] = docID.String
	}
	doc[models.FieldLastModify] = lastModify.UTC()
	return doc, nil
}

// Insert stores one or more documents; see InsertOne and InsertMany.
func (r *DocumentRepository) Insert(ctx context.Context, docs ...any) (*models.InsertResult, error) {
	return r.InsertMany(ctx, docs)
}

func (r *DocumentRepository) InsertOne(ctx context.Context, doc any) (*models.InsertResult, error) {
	return r.InsertMany(ctx, []any{doc})
}

func (r *DocumentRepository) InsertMany(ctx context.Context, docs []any) (*models.InsertResult, error) {
	bodies := make([]string, 0, len(docs))
	ids := make([]any, 0, len(docs))
	for i, raw := range docs {
		doc, err := models.ToDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		body, err := encodeBody(doc, models.IsReservedField)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, body)
		ids = append(ids, docIDValue(doc))
	}

	d := r.conn.Dialect()
	query := d.Rebind(fmt.Sprintf(
		"INSERT INTO documents (oid, collection, doc_id, body, last_modify) VALUES (?, ?, ?, %s, ?)",
		d.JSONParam(),
	))

	var result *models.InsertResult
	err := r.conn.Do(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		result = &models.InsertResult{InsertedIDs: make([]string, 0, len(bodies))}
		for i, body := range bodies {
			oid := generateID()
			if _, err := tx.ExecContext(ctx, query, oid, r.collection, ids[i], body, r.timestamp()); err != nil {
				return fmt.Errorf("insert into %s failed: %w", r.collection, err)
			}
			result.InsertedIDs = append(result.InsertedIDs, oid)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *DocumentRepository) DeleteOne(ctx context.Context, filter models.Filter) (*models.DeleteResult, error) {
	return r.delete(ctx, filter, true)
}

func (r *DocumentRepository) DeleteMany(ctx context.Context, filter models.Filter) (*models.DeleteResult, error) {
	return r.delete(ctx, filter, false)
}

// targetClause selects the live documents matched by filter: all of them,
// or only the first inserted when one is set.
func (r *DocumentRepository) targetClause(filter models.Filter, one bool) (string, []any, error) {
	where, args, err := whereClause(r.conn.Dialect(), liveColumns, filter)
	if err != nil {
		return "", nil, err
	}
	match := "collection = ?"
	if where != "" {
		match += " AND " + where
	}
	args = append([]any{r.collection}, args...)
	if one {
		return "oid IN (SELECT oid FROM documents WHERE " + match + " ORDER BY seq ASC LIMIT 1)", args, nil
	}
	return match, args, nil
}

func (r *DocumentRepository) delete(ctx context.Context, filter models.Filter, one bool) (*models.DeleteResult, error) {
	target, args, err := r.targetClause(filter, one)
	if err != nil {
		return nil, err
	}
	query := r.conn.Dialect().Rebind("DELETE FROM documents WHERE " + target)

	unlock := r.conn.lockCollection(r.collection)
	defer unlock()

	var n int64
	err = r.conn.Do(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete from %s failed: %w", r.collection, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.DeleteResult{DeletedCount: n}, nil
}

func (r *DocumentRepository) UpdateOne(ctx context.Context, filter models.Filter, set any) (*models.UpdateResult, error) {
	return r.update(ctx, filter, set, true)
}

func (r *DocumentRepository) UpdateMany(ctx context.Context, filter models.Filter, set any) (*models.UpdateResult, error) {
	return r.update(ctx, filter, set, false)
}

// update replaces the top-level fields named in set on every matching
// document in a single statement, so concurrent updates of different
// fields do not overwrite each other. A nil value removes the field.
// "_id" and "last_modify" cannot be set; "id" moves the document to another
// configuration id.
func (r *DocumentRepository) update(ctx context.Context, filter models.Filter, set any, one bool) (*models.UpdateResult, error) {
	fields, err := models.ToDocument(set)
	if err != nil {
		return nil, err
	}

	var keys []string
	values := models.Document{}
	for k, v := range fields {
		if models.IsReservedField(k) {
			continue
		}
		keys = append(keys, k)
		if v != nil {
			values[k] = v
		}
	}
	sort.Strings(keys)
	patch, err := encodeBody(values, models.IsReservedField)
	if err != nil {
		return nil, err
	}

	d := r.conn.Dialect()
	bodyExpr, bodyArgs, err := d.SetFields("body", keys, patch)
	if err != nil {
		return nil, err
	}
	target, targetArgs, err := r.targetClause(filter, one)
	if err != nil {
		return nil, err
	}

	assign := "body = " + bodyExpr + ", last_modify = ?"
	var args []any
	if _, ok := fields[models.FieldID]; ok {
		assign = "doc_id = ?, " + assign
		args = append(args, docIDValue(fields))
	}
	args = append(args, bodyArgs...)
	query := d.Rebind("UPDATE documents SET " + assign + " WHERE " + target)

	unlock := r.conn.lockCollection(r.collection)
	defer unlock()

	var n int64
	err = r.retryConflicts(ctx, "Update", func() error {
		return r.conn.Do(ctx, func(db *sql.DB) error {
			stmtArgs := append(append(append([]any{}, args...), r.timestamp()), targetArgs...)
			res, err := db.ExecContext(ctx, query, stmtArgs...)
			if err != nil {
				return fmt.Errorf("update in %s failed: %w", r.collection, err)
			}
			n, err = res.RowsAffected()
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return &models.UpdateResult{MatchedCount: n, ModifiedCount: n}, nil
}

// retryConflicts runs op again while it fails with a write conflict, at
// most r.retries more times.
func (r *DocumentRepository) retryConflicts(ctx context.Context, what string, op func() error) error {
	d := r.conn.Dialect()
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || !d.IsConflict(err) || attempt >= r.retries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		r.log.Warn(what+" conflicted, retrying", "attempt", attempt+1, "error", err)
	}
}

// Commit snapshots the live document of id into the version trail.
func (r *DocumentRepository) Commit(ctx context.Context, id, tag, message string) (*models.VersionRecord, error) {
	if id == "" {
		return nil, models.ErrInvalidID
	}
	tag = models.NormalizeTag(tag)

	unlock := r.commitLocks.Lock(id)
	defer unlock()

	var rec *models.VersionRecord
	err := r.retryConflicts(ctx, "Commit", func() error {
		return r.conn.Do(ctx, func(db *sql.DB) error {
			var err error
			rec, err = r.commitOnce(ctx, db, id, tag, message)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("Committed version", "id", id, "n_ver", rec.NVer, "tag", rec.Tag)
	r.publish(ctx, rec)
	return rec, nil
}

func (r *DocumentRepository) commitOnce(ctx context.Context, db *sql.DB, id, tag, message string) (*models.VersionRecord, error) {
	d := r.conn.Dialect()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var last int64
	err = tx.QueryRowContext(ctx, d.Rebind(
		"SELECT n_ver FROM document_versions WHERE collection = ? AND doc_id = ? ORDER BY n_ver DESC LIMIT 1",
	), r.history, id).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("commit %s: failed to read last version: %w", id, err)
	}

	live, err := scanLiveDocument(tx.QueryRowContext(ctx, d.Rebind(
		"SELECT oid, doc_id, body, last_modify FROM documents WHERE collection = ? AND doc_id = ? ORDER BY last_modify DESC, seq DESC LIMIT 1",
	), r.collection, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNothingToCommit
	}
	if err != nil {
		return nil, fmt.Errorf("commit %s: failed to load live document: %w", id, err)
	}

	rec := &models.VersionRecord{
		OID:        generateID(),
		ID:         id,
		NVer:       last + 1,
		Tag:        tag,
		Comment:    message,
		LastModify: r.timestamp(),
		Fields:     make(map[string]any, len(live)),
	}
	for k, v := range live {
		if !models.IsReservedHistoryField(k) {
			rec.Fields[k] = v
		}
	}

	body, err := encodeBody(rec.Fields, models.IsReservedHistoryField)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, d.Rebind(fmt.Sprintf(
		`INSERT INTO document_versions (oid, collection, doc_id, n_ver, tag, comment, body, last_modify)
		 VALUES (?, ?, ?, ?, ?, ?, %s, ?)`, d.JSONParam(),
	)), rec.OID, r.history, rec.ID, rec.NVer, rec.Tag, rec.Comment, body, rec.LastModify)
	if err != nil {
		return nil, fmt.Errorf("commit %s: failed to write version %d: %w", id, rec.NVer, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s: %w", id, err)
	}
	return rec, nil
}

func (r *DocumentRepository) publish(ctx context.Context, rec *models.VersionRecord) {
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, r.collection, rec); err != nil {
			r.log.Warn("Commit sink failed", "sink", sink.Name(), "id", rec.ID, "n_ver", rec.NVer, "error", err)
		}
	}
}

// HistoryFind reads the version trail.
func (r *DocumentRepository) HistoryFind(ctx context.Context, filter models.Filter, sortBy ...models.SortField) ([]models.Document, error) {
	d := r.conn.Dialect()
	where, args, err := whereClause(d, historyColumns, filter)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(d, historyColumns, sortBy)
	if err != nil {
		return nil, err
	}

	query := "SELECT oid, doc_id, n_ver, tag, comment, body, last_modify FROM document_versions WHERE collection = ?"
	if where != "" {
		query += " AND " + where
	}
	query += " " + order

	var docs []models.Document
	err = r.conn.Do(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, d.Rebind(query), append([]any{r.history}, args...)...)
		if err != nil {
			return fmt.Errorf("history query on %s failed: %w", r.history, err)
		}
		defer rows.Close()

		docs = []models.Document{}
		for rows.Next() {
			var oid, docID, tag, comment, body string
			var nVer int64
			var lastModify time.Time
			if err := rows.Scan(&oid, &docID, &nVer, &tag, &comment, &body, &lastModify); err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			fields, err := decodeBody(body)
			if err != nil {
				return err
			}
			rec := models.VersionRecord{
				OID: oid, ID: docID, NVer: nVer, Tag: tag, Comment: comment,
				LastModify: lastModify.UTC(), Fields: fields,
			}
			docs = append(docs, rec.Document())
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func generateID() string {
	return uuid.New().String()
}
