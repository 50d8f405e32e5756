package main

import (
	"context"
	"fmt"

	"github.com/orian/configdesk/models"
)

// GraphCollection holds one configuration graph document per scenario.
const GraphCollection = "graph"

const emptyGraphPayload = "{}"

// GraphStore is the repository bound to the graph collection, with
// helpers for the {id, graph} document shape.
type GraphStore struct {
	*DocumentRepository
}

var (
	_ models.DocumentStore   = (*DocumentRepository)(nil)
	_ models.GraphRepository = (*GraphStore)(nil)
)

func NewGraphStore(conn *StoreConnector, opts ...RepositoryOption) *GraphStore {
	return &GraphStore{DocumentRepository: NewDocumentRepository(conn, GraphCollection, opts...)}
}

// Create stores an empty graph for id.
func (g *GraphStore) Create(ctx context.Context, id string) error {
	if id == "" {
		return models.ErrInvalidID
	}
	_, err := g.InsertOne(ctx, models.Document{models.FieldID: id, models.FieldGraph: emptyGraphPayload})
	return err
}

// Load returns the live graph document of id and its parsed payload.
func (g *GraphStore) Load(ctx context.Context, id string) (models.Document, *models.Graph, error) {
	docs, err := g.Find(ctx, models.Eq(models.FieldID, id))
	if err != nil {
		return nil, nil, err
	}
	if len(docs) == 0 {
		return nil, nil, fmt.Errorf("graph %q: %w", id, models.ErrNotFound)
	}
	doc := latestDocument(docs)
	graph, err := models.ParseGraph(doc.GetString(models.FieldGraph))
	if err != nil {
		return nil, nil, fmt.Errorf("graph %q: %w", id, err)
	}
	return doc, graph, nil
}

// Save serializes graph into doc, the live document Load returned.
func (g *GraphStore) Save(ctx context.Context, doc models.Document, graph *models.Graph) error {
	oid := doc.GetString(models.FieldOID)
	if oid == "" {
		return models.ErrInvalidID
	}
	payload, err := graph.Encode()
	if err != nil {
		return err
	}
	res, err := g.UpdateOne(ctx, models.Eq(models.FieldOID, oid), models.Document{models.FieldGraph: payload})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("graph %q: %w", doc.GetString(models.FieldID), models.ErrNotFound)
	}
	return nil
}

// Replace swaps the live document of id for one holding payload.
// Existing live documents for id are removed first, so exactly one remains.
func (g *GraphStore) Replace(ctx context.Context, id, payload string) (*models.InsertResult, error) {
	if id == "" {
		return nil, models.ErrInvalidID
	}
	if _, err := g.DeleteMany(ctx, models.Eq(models.FieldID, id)); err != nil {
		return nil, err
	}
	return g.InsertOne(ctx, models.Document{models.FieldID: id, models.FieldGraph: payload})
}

// Remove deletes the live graph of id. Its versions are kept.
func (g *GraphStore) Remove(ctx context.Context, id string) (*models.DeleteResult, error) {
	return g.DeleteMany(ctx, models.Eq(models.FieldID, id))
}

// Version returns version nVer of id, or ErrNotFound.
func (g *GraphStore) Version(ctx context.Context, id string, nVer int64) (models.Document, error) {
	docs, err := g.VersionsByNumber(ctx, id, nVer)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("version %d of %q: %w", nVer, id, models.ErrNotFound)
	}
	return docs[0], nil
}

// Summary describes the live graph of id and its latest commit.
func (g *GraphStore) Summary(ctx context.Context, id string) (*models.GraphSummary, error) {
	docs, err := g.Find(ctx, models.Eq(models.FieldID, id))
	if err != nil {
		return nil, err
	}
	summary := &models.GraphSummary{}
	if len(docs) > 0 {
		summary.LastModify = latestDocument(docs).GetTime(models.FieldLastModify)
	}

	versions, err := g.HistoryFind(ctx, models.Eq(models.FieldID, id), models.Desc(models.FieldNVer))
	if err != nil {
		return nil, err
	}
	if len(versions) > 0 {
		committed := versions[0].GetTime(models.FieldLastModify)
		summary.LastCommit = &committed
		summary.Comment = versions[0].GetString(models.FieldComment)
	}
	for _, v := range versions {
		if tag := v.GetString(models.FieldTag); tag != "" {
			summary.LastTag = tag
			break
		}
	}
	return summary, nil
}

// latestDocument picks the most recently modified document, the same one
// Commit snapshots. docs are in insertion order, so later insertion wins ties.
func latestDocument(docs []models.Document) models.Document {
	latest := docs[0]
	for _, d := range docs[1:] {
		if !d.GetTime(models.FieldLastModify).Before(latest.GetTime(models.FieldLastModify)) {
			latest = d
		}
	}
	return latest
}
