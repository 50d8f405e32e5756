package main

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/orian/configdesk/logger"
	"github.com/orian/configdesk/models"
)

// Neo4jConfig holds the topology projection settings.
type Neo4jConfig struct {
	URI            string `yaml:"uri"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxPoolSize    int    `yaml:"max_pool_size"`
}

// Neo4jProjector mirrors the entity/interface topology of every committed
// graph into Neo4j, one (:Configuration) per configuration id.
type Neo4jProjector struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// NewNeo4jProjector connects to Neo4j. It returns nil, nil when no URI is
// configured.
func NewNeo4jProjector(cfg Neo4jConfig, log *logger.Logger) (*Neo4jProjector, error) {
	if cfg.URI == "" {
		return nil, nil
	}
	user := cfg.Username
	if user == "" {
		user = "neo4j"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}

	auth := neo4j.BasicAuth(user, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = maxPool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	return &Neo4jProjector{
		driver:   driver,
		database: cfg.Database,
		log:      log.With("sink", "neo4j"),
	}, nil
}

func (p *Neo4jProjector) Name() string { return "neo4j" }

// Publish replaces the projected topology of rec.ID with the committed one.
// Records of collections other than the graph collection are ignored.
func (p *Neo4jProjector) Publish(ctx context.Context, collection string, rec *models.VersionRecord) error {
	if collection != GraphCollection {
		return nil
	}
	graph, err := committedGraph(rec)
	if err != nil {
		return err
	}
	params := projectionParams(rec, graph)

	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: p.database,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		statements := []string{`
MERGE (c:Configuration {id: $config_id})
SET c.n_ver = $n_ver, c.tag = $tag, c.comment = $comment, c.committed_at = $committed_at`, `
MATCH (c:Configuration {id: $config_id})-[:HAS_ENTITY]->(e:Entity)
WHERE NOT e.id IN $entity_ids
DETACH DELETE e`, `
MATCH (c:Configuration {id: $config_id})
UNWIND $entities AS ent
MERGE (e:Entity {config_id: $config_id, id: ent.id})
SET e.name = ent.name, e.external = ent.external, e.description = ent.description
MERGE (c)-[:HAS_ENTITY]->(e)`, `
MATCH (:Entity {config_id: $config_id})-[r:INTERFACE]->(:Entity {config_id: $config_id})
DELETE r`, `
UNWIND $links AS l
MATCH (a:Entity {config_id: $config_id, id: l.source})
MATCH (b:Entity {config_id: $config_id, id: l.target})
MERGE (a)-[r:INTERFACE {id: l.id}]->(b)
SET r.name = l.name, r.protocol = l.protocol`,
		}
		for _, stmt := range statements {
			res, err := tx.Run(ctx, stmt, params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j: project %s v%d: %w", rec.ID, rec.NVer, err)
	}
	p.log.Debug("Projected graph", "id", rec.ID, "n_ver", rec.NVer, "entities", len(graph.Nodes), "interfaces", len(graph.Connections))
	return nil
}

// projectionParams flattens a committed graph into Cypher parameters.
// Connections whose endpoints do not resolve to an entity are skipped.
func projectionParams(rec *models.VersionRecord, graph *models.Graph) map[string]any {
	entities := make([]any, 0, len(graph.Nodes))
	entityIDs := make([]any, 0, len(graph.Nodes))
	owner := make(map[string]string)
	for _, n := range graph.Nodes {
		entities = append(entities, map[string]any{
			"id":          n.ID,
			"name":        n.Name,
			"external":    n.External,
			"description": n.Description,
		})
		entityIDs = append(entityIDs, n.ID)
		for _, ep := range n.Endpoints {
			owner[ep.ID] = n.ID
		}
	}

	links := make([]any, 0, len(graph.Connections))
	for _, c := range graph.Connections {
		source, ok := owner[c.SourceEndpointID]
		if !ok {
			continue
		}
		target, ok := owner[c.TargetEndpointID]
		if !ok {
			continue
		}
		links = append(links, map[string]any{
			"id":       c.ID,
			"name":     c.Name,
			"protocol": c.Protocol,
			"source":   source,
			"target":   target,
		})
	}

	return map[string]any{
		"config_id":    rec.ID,
		"n_ver":        rec.NVer,
		"tag":          rec.Tag,
		"comment":      rec.Comment,
		"committed_at": rec.LastModify,
		"entities":     entities,
		"entity_ids":   entityIDs,
		"links":        links,
	}
}

func (p *Neo4jProjector) Close(ctx context.Context) error {
	if p == nil || p.driver == nil {
		return nil
	}
	return p.driver.Close(ctx)
}
