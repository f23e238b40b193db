package searchindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meilisearch/meilisearch-go"
)

// indexSettings mirrors the per-index attribute configuration applied by
// the Django reindex command this pipeline must stay compatible with.
var indexSettings = map[string]struct {
	searchable []string
	filterable []string
	sortable   []string
}{
	"papers": {
		searchable: []string{"name", "reference", "paper_type", "file_contents_preview", "file_names"},
		filterable: []string{"body_id", "paper_type", "date"},
		sortable:   []string{"date", "oparl_created", "oparl_modified"},
	},
	"meetings": {
		searchable: []string{"name", "organization_names", "location_name"},
		filterable: []string{"body_id", "cancelled", "start"},
		sortable:   []string{"start", "end", "oparl_modified"},
	},
	"persons": {
		searchable: []string{"name", "given_name", "family_name", "title"},
		filterable: []string{"body_id"},
		sortable:   []string{"family_name", "given_name", "oparl_modified"},
	},
	"organizations": {
		searchable: []string{"name", "short_name", "organization_type", "classification"},
		filterable: []string{"body_id", "organization_type"},
		sortable:   []string{"name", "oparl_modified"},
	},
	"files": {
		searchable: []string{"name", "file_name", "text_content", "paper_name", "paper_reference"},
		filterable: []string{"body_id", "paper_id", "meeting_id", "mime_type"},
		sortable:   []string{"oparl_modified"},
	},
}

var rankingRules = []string{"words", "typo", "proximity", "attribute", "sort", "exactness"}

var typoTolerance = meilisearch.TypoTolerance{
	Enabled: true,
	MinWordSizeForTypos: meilisearch.MinWordSizeForTypos{
		OneTypo:  int64(4),
		TwoTypos: int64(8),
	},
}

// Indexer pushes documents to Meilisearch and keeps its index settings
// up to date. It is intentionally thin: document construction lives in
// documents.go, HTTP concerns live here.
type Indexer struct {
	client        meilisearch.ServiceManager
	logger        *slog.Logger
	semanticRatio float64
}

// New creates an Indexer pointed at a Meilisearch instance. semanticRatio
// mirrors the original deployment's use_embedders guard: a nonzero value
// would blend semantic search into ranking, but no embedding provider
// exists in this domain, so EnsureSettings only warns about it instead of
// acting on it.
func New(url, apiKey string, semanticRatio float64, logger *slog.Logger) *Indexer {
	return &Indexer{
		client:        meilisearch.New(url, meilisearch.WithAPIKey(apiKey)),
		logger:        logger,
		semanticRatio: semanticRatio,
	}
}

// Healthy reports whether Meilisearch is reachable.
func (ix *Indexer) Healthy(ctx context.Context) bool {
	ok, err := ix.client.HealthyWithContext(ctx)
	return err == nil && ok
}

// EnsureSettings configures searchable/filterable/sortable attributes,
// typo tolerance, and ranking rules on every index. Idempotent: safe to
// call on every startup. Hybrid-search embedders are not configured —
// this deployment has no embedding provider.
func (ix *Indexer) EnsureSettings(ctx context.Context) error {
	if ix.semanticRatio > 0 {
		ix.logf("MEILISEARCH_SEMANTIC_RATIO is set but no embedding provider is configured; hybrid search stays disabled", "ratio", ix.semanticRatio)
	}

	var errs []error
	for name, cfg := range indexSettings {
		idx := ix.client.Index(name)

		if _, err := idx.UpdateSearchableAttributesWithContext(ctx, &cfg.searchable); err != nil {
			errs = append(errs, fmt.Errorf("searchindex: %s searchable attributes: %w", name, err))
		}
		if _, err := idx.UpdateFilterableAttributesWithContext(ctx, &cfg.filterable); err != nil {
			errs = append(errs, fmt.Errorf("searchindex: %s filterable attributes: %w", name, err))
		}
		if _, err := idx.UpdateSortableAttributesWithContext(ctx, &cfg.sortable); err != nil {
			errs = append(errs, fmt.Errorf("searchindex: %s sortable attributes: %w", name, err))
		}
		if _, err := idx.UpdateTypoToleranceWithContext(ctx, &typoTolerance); err != nil {
			errs = append(errs, fmt.Errorf("searchindex: %s typo tolerance: %w", name, err))
		}
		if _, err := idx.UpdateRankingRulesWithContext(ctx, &rankingRules); err != nil {
			errs = append(errs, fmt.Errorf("searchindex: %s ranking rules: %w", name, err))
		}
		ix.logf("index settings configured", "index", name)
	}

	if len(errs) > 0 {
		return fmt.Errorf("searchindex: ensure settings: %w", errors.Join(errs...))
	}
	return nil
}

// IndexDocuments upserts a batch of documents into the named index.
// Indexing is best-effort: a failure here is logged by the caller and
// never crashes the sync, since entity data is already durable in the
// relational store.
func (ix *Indexer) IndexDocuments(ctx context.Context, indexName string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	idx := ix.client.Index(indexName)
	if _, err := idx.AddDocumentsWithContext(ctx, docs, nil); err != nil {
		return fmt.Errorf("searchindex: index %d documents into %q: %w", len(docs), indexName, err)
	}
	ix.logf("indexed documents", "index", indexName, "count", len(docs))
	return nil
}

// DeleteAllDocuments clears an index's contents without deleting the
// index itself or its settings.
func (ix *Indexer) DeleteAllDocuments(ctx context.Context, indexName string) error {
	if _, err := ix.client.Index(indexName).DeleteAllDocumentsWithContext(ctx); err != nil {
		return fmt.Errorf("searchindex: delete documents in %q: %w", indexName, err)
	}
	return nil
}

func (ix *Indexer) logf(msg string, args ...any) {
	if ix.logger == nil {
		return
	}
	ix.logger.Info(msg, args...)
}
