package neo4j

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/resilience"
)

const indexAssetCypher = `
MERGE (a:Asset {id: $asset_id})
SET a.filename = $filename, a.asset_type = $asset_type, a.indexed_at = datetime()
WITH a
OPTIONAL MATCH (a)-[old:HAS_KEYWORD|HAS_TOPIC]->()
DELETE old
WITH DISTINCT a
FOREACH (kw IN $keywords | MERGE (k:Keyword {name: kw}) MERGE (a)-[:HAS_KEYWORD]->(k))
FOREACH (tp IN $topics | MERGE (t:Topic {name: tp}) MERGE (a)-[:HAS_TOPIC]->(t))
`

var constraintCypher = []string{
	`CREATE CONSTRAINT asset_id IF NOT EXISTS FOR (a:Asset) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT keyword_name IF NOT EXISTS FOR (k:Keyword) REQUIRE k.name IS UNIQUE`,
	`CREATE CONSTRAINT topic_name IF NOT EXISTS FOR (t:Topic) REQUIRE t.name IS UNIQUE`,
}

type runner func(ctx context.Context, cypher string, params map[string]any) error

// Indexer projects enriched assets into a Neo4j keyword/topic graph:
// (:Asset)-[:HAS_KEYWORD]->(:Keyword) and (:Asset)-[:HAS_TOPIC]->(:Topic).
// Re-indexing an asset replaces its edges.
type Indexer struct {
	driver   neo4j.DriverWithContext
	run      runner
	executor *resilience.Executor
}

type Options struct {
	Database           string
	ResilienceExecutor *resilience.Executor
}

func New(ctx context.Context, uri, user, password string, options Options) (*Indexer, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	database := strings.TrimSpace(options.Database)
	idx := &Indexer{
		driver:   driver,
		executor: options.ResilienceExecutor,
		run: func(ctx context.Context, cypher string, params map[string]any) error {
			opts := []neo4j.ExecuteQueryConfigurationOption{}
			if database != "" {
				opts = append(opts, neo4j.ExecuteQueryWithDatabase(database))
			}
			_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, opts...)
			return err
		},
	}
	return idx, nil
}

func (i *Indexer) Close(ctx context.Context) error {
	if i.driver == nil {
		return nil
	}
	return i.driver.Close(ctx)
}

// EnsureConstraints creates the uniqueness constraints MERGE relies on.
func (i *Indexer) EnsureConstraints(ctx context.Context) error {
	for _, cypher := range constraintCypher {
		if err := i.run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("ensure neo4j constraint: %w", err)
		}
	}
	return nil
}

func (i *Indexer) IndexAsset(ctx context.Context, doc domain.GraphDocument) error {
	if strings.TrimSpace(doc.AssetID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "index asset", fmt.Errorf("asset id is required"))
	}
	params := map[string]any{
		"asset_id":   doc.AssetID,
		"filename":   doc.Filename,
		"asset_type": string(doc.AssetType),
		"keywords":   normalizeTerms(doc.Keywords),
		"topics":     normalizeTerms(doc.Topics),
	}

	call := func(callCtx context.Context) error {
		return i.run(callCtx, indexAssetCypher, params)
	}
	var err error
	if i.executor != nil {
		err = i.executor.Execute(ctx, "neo4j.index_asset", call, classifyNeo4jError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if class := classifyNeo4jError(err); class.Retryable {
			return domain.WrapError(domain.ErrTemporary, "neo4j index asset", err)
		}
		return fmt.Errorf("neo4j index asset: %w", err)
	}
	return nil
}

// normalizeTerms lowercases, trims and dedupes, keeping first-seen order.
// The driver wants []any for list parameters.
func normalizeTerms(terms []string) []any {
	seen := map[string]bool{}
	out := make([]any, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func classifyNeo4jError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) || domain.IsKind(err, domain.ErrTemporary) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}
