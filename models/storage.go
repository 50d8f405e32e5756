package models

import "context"

// DocumentStore is a versioned collection of schemaless documents.
//
// Each store owns two collections: the live collection, holding the mutable
// "current" documents, and its history collection, an append-only trail of
// committed snapshots. The primary implementation is DocumentRepository,
// which keeps both in SQL tables (DuckDB or Postgres).
//
// The interface is organized into two categories:
//   - Live documents: Find, InsertOne, InsertMany, UpdateOne, UpdateMany, DeleteOne, DeleteMany
//   - Version trail: Commit, HistoryFind
//
// Thread Safety: Implementations should be safe for concurrent use.
type DocumentStore interface {
	// Find returns the live documents matching filter, in insertion order.
	// An empty filter matches every document. No match is not an error.
	Find(ctx context.Context, filter Filter) ([]Document, error)

	// InsertOne stores a single document.
	//
	// The document may be a map or any value that encodes to a JSON object.
	// The store mints its "_id" and stamps "last_modify".
	InsertOne(ctx context.Context, doc any) (*InsertResult, error)

	// InsertMany stores several documents in one transaction.
	InsertMany(ctx context.Context, docs []any) (*InsertResult, error)

	// UpdateOne merges set into the first document matching filter and
	// re-stamps its "last_modify". Zero matches is not an error.
	UpdateOne(ctx context.Context, filter Filter, set any) (*UpdateResult, error)

	// UpdateMany merges set into every document matching filter.
	UpdateMany(ctx context.Context, filter Filter, set any) (*UpdateResult, error)

	// DeleteOne removes the first live document matching filter.
	DeleteOne(ctx context.Context, filter Filter) (*DeleteResult, error)

	// DeleteMany removes every live document matching filter.
	//
	// The history collection is never touched.
	DeleteMany(ctx context.Context, filter Filter) (*DeleteResult, error)

	// Commit snapshots the live document with the given id into the
	// history collection.
	//
	// Parameters:
	//   - id: configuration identifier, must be non-empty
	//   - tag: optional label, stored upper-cased
	//   - message: optional commit comment
	//
	// The record gets the next version number for id (1 for the first
	// commit) and a fresh timestamp. Returns:
	//   - ErrInvalidID when id is empty
	//   - ErrNothingToCommit when there is no live document for id
	//   - a wrapped store error when the store fails
	Commit(ctx context.Context, id, tag, message string) (*VersionRecord, error)

	// HistoryFind returns version records matching filter, ordered by the
	// sort keys in turn. Records that tie on every key keep insertion order.
	HistoryFind(ctx context.Context, filter Filter, sort ...SortField) ([]Document, error)
}

// GraphRepository is a DocumentStore holding one graph document per
// configuration id, with helpers that parse and serialize the graph.
type GraphRepository interface {
	DocumentStore

	// Create stores an empty graph for id.
	Create(ctx context.Context, id string) error

	// Load returns the live graph document of id and its parsed graph,
	// or ErrNotFound. When several live documents share id the most
	// recently modified wins, ties going to the latest inserted.
	Load(ctx context.Context, id string) (Document, *Graph, error)

	// Save writes graph into the live document doc that Load returned.
	Save(ctx context.Context, doc Document, graph *Graph) error

	// Replace swaps every live document of id for one holding payload.
	Replace(ctx context.Context, id, payload string) (*InsertResult, error)

	// Remove deletes the live graph of id. Its versions are kept.
	Remove(ctx context.Context, id string) (*DeleteResult, error)

	// Version returns version nVer of id, or ErrNotFound.
	Version(ctx context.Context, id string, nVer int64) (Document, error)

	// History lists every version of id.
	History(ctx context.Context, id string) ([]Document, error)

	// VersionsByRef lists the versions of id matching a version number
	// or a tag.
	VersionsByRef(ctx context.Context, id, ref string) ([]Document, error)

	// Summary describes the live graph of id and its latest commit.
	Summary(ctx context.Context, id string) (*GraphSummary, error)
}

// ScenarioStore persists scenario metadata records.
type ScenarioStore interface {
	// Create stores a new scenario. ID, CreatedAt and ModifiedAt are set
	// by the store when empty.
	Create(ctx context.Context, s *Scenario) (*Scenario, error)

	// Get returns the scenario or ErrNotFound.
	Get(ctx context.Context, id string) (*Scenario, error)

	// List returns all scenarios, most recently modified first.
	List(ctx context.Context) ([]*Scenario, error)

	// Update overwrites the editable fields and bumps ModifiedAt.
	// Returns ErrNotFound when the scenario does not exist.
	Update(ctx context.Context, s *Scenario) (*Scenario, error)

	// Delete removes the scenario. Returns ErrNotFound when it does not exist.
	Delete(ctx context.Context, id string) error
}

// CommitSink receives version records after they are committed.
// Sinks are best effort: an error is logged and never undoes the commit.
type CommitSink interface {
	Name() string
	Publish(ctx context.Context, collection string, rec *VersionRecord) error
}
