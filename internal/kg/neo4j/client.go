package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/pkg/circuitbreaker"
	"github.com/archive-agent/backend/pkg/logger"
	"github.com/archive-agent/backend/pkg/retry"
)

// Client maintains a mention graph:
//
//	(:Entity {name, type})-[:MENTIONED_IN {page, count}]->(:Document {id, title, uri})
//	(:Entity)-[:CO_OCCURS {count}]-(:Entity)
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type Entity struct {
	Name string
	Type string
}

type DocumentRef struct {
	ID    string
	Title string
	URI   string
}

// Mention is one entity found on a document page, with the entities it
// shares pages with.
type Mention struct {
	Entity        Entity
	DocumentTitle string
	DocumentURI   string
	Page          int
	Count         int
	Related       []string
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: mode})
}

// executeWithRetry is used for ingestion writes, which can afford to wait.
func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.session(ctx, neo4j.AccessModeWrite)
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`,
		`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
	}
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, stmt := range statements {
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}

// IndexMentions records that entities appear together on one page of doc.
func (c *Client) IndexMentions(ctx context.Context, doc DocumentRef, page int, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(entities))
	names := make([]string, len(entities))
	for i, e := range entities {
		rows[i] = map[string]any{"name": e.Name, "type": e.Type}
		names[i] = e.Name
	}

	mentionQuery := `
		MERGE (d:Document {id: $doc_id})
		SET d.title = $title, d.uri = $uri
		WITH d
		UNWIND $entities AS row
		MERGE (e:Entity {name: row.name})
		ON CREATE SET e.type = row.type, e.created_at = timestamp()
		MERGE (e)-[m:MENTIONED_IN {page: $page}]->(d)
		ON CREATE SET m.count = 1
		ON MATCH SET m.count = m.count + 1
	`

	coOccurQuery := `
		UNWIND $names AS a
		UNWIND $names AS b
		WITH a, b WHERE a < b
		MATCH (x:Entity {name: a}), (y:Entity {name: b})
		MERGE (x)-[r:CO_OCCURS]-(y)
		ON CREATE SET r.count = 1
		ON MATCH SET r.count = r.count + 1
	`

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		if _, err := session.Run(ctx, mentionQuery, map[string]any{
			"doc_id":   doc.ID,
			"title":    doc.Title,
			"uri":      doc.URI,
			"page":     page,
			"entities": rows,
		}); err != nil {
			return fmt.Errorf("failed to index mentions: %w", err)
		}
		if len(names) > 1 {
			if _, err := session.Run(ctx, coOccurQuery, map[string]any{"names": names}); err != nil {
				return fmt.Errorf("failed to index co-occurrences: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Mentions indexed",
		zap.String("doc_id", doc.ID),
		zap.Int("page", page),
		zap.Int("entities", len(entities)),
	)
	return nil
}

// RelatedMentions finds where the named entities appear in the archive. It is
// on the chat path, so it fails fast instead of retrying.
func (c *Client) RelatedMentions(ctx context.Context, names []string, limit int) ([]Mention, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := `
		MATCH (e:Entity)-[m:MENTIONED_IN]->(d:Document)
		WHERE e.name IN $names
		OPTIONAL MATCH (e)-[:CO_OCCURS]-(o:Entity)
		WITH e, m, d, collect(DISTINCT o.name) AS related
		RETURN e.name AS name, e.type AS type, d.title AS title, d.uri AS uri,
		       m.page AS page, m.count AS mentions, related[0..5] AS related
		ORDER BY mentions DESC
		LIMIT $limit
	`

	return circuitbreaker.ExecuteWithResult(ctx, c.cb, func() ([]Mention, error) {
		session := c.session(ctx, neo4j.AccessModeRead)
		defer session.Close(ctx)

		result, err := session.Run(ctx, query, map[string]any{"names": names, "limit": limit})
		if err != nil {
			return nil, fmt.Errorf("failed to query mentions: %w", err)
		}

		var mentions []Mention
		for result.Next(ctx) {
			record := result.Record()
			mentions = append(mentions, Mention{
				Entity: Entity{
					Name: stringValue(record, "name"),
					Type: stringValue(record, "type"),
				},
				DocumentTitle: stringValue(record, "title"),
				DocumentURI:   stringValue(record, "uri"),
				Page:          int(intValue(record, "page")),
				Count:         int(intValue(record, "mentions")),
				Related:       stringList(record, "related"),
			})
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("error iterating results: %w", err)
		}
		return mentions, nil
	})
}

func (c *Client) EntityCount(ctx context.Context) (int64, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (e:Entity) RETURN count(e) AS n`, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	if result.Next(ctx) {
		return intValue(result.Record(), "n"), nil
	}
	return 0, result.Err()
}

func stringValue(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intValue(record *neo4j.Record, key string) int64 {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

func stringList(record *neo4j.Record, key string) []string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return nil
	}
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
