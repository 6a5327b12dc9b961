package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("rcad.vectorstore.chromem")

// listProbe is the query text used to enumerate a collection. chromem-go
// has no list primitive, so ListAll queries with a fixed probe and k equal
// to the collection size, which returns every document.
const listProbe = "pattern"

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Supports ~ expansion.
	Path string

	// Collection is the collection name.
	Collection string

	// VectorSize is the embedding dimensionality. Must match the embedder.
	VectorSize int

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/rcad/patterns"
	}
	if c.Collection == "" {
		c.Collection = "rcad_patterns"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore is a Store implementation backed by embedded chromem-go.
//
// chromem-go keeps all documents in memory and persists them to disk, which
// suits the pattern library: a few hundred documents, read-heavy, no
// external service to operate.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore creates a ChromemStore and ensures the configured
// collection exists. The storage directory is created if missing.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandStorePath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: opening persistent db at %s: %v", ErrConnectionFailed, path, err)
	}

	// An explicit embedding func must be passed everywhere a collection is
	// obtained. chromem-go falls back to its OpenAI embedder on nil, which
	// would fail at query time without an API key.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("ensuring collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem store ready",
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Int("documents", collection.Count()),
	)

	return &ChromemStore{
		db:         db,
		collection: collection,
		embedder:   embedder,
		config:     config,
		logger:     logger,
	}, nil
}

// embeddingFunc adapts an Embedder to chromem's per-text callback.
func embeddingFunc(embedder Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
}

// expandStorePath expands a leading ~ to the user home directory.
func expandStorePath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// AddDocuments embeds and stores a batch of documents.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) (_ []string, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	defer observeOperation(backendChromem, "add_documents", &err)()

	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.New().String()
			s.logger.Debug("generated document id", zap.String("id", id))
		}
		ids[i] = id
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   doc.Content,
			Embedding: embeddings[i],
			Metadata:  convertMetadataToString(doc.Metadata),
		}
	}

	// Embeddings are precomputed above, so no concurrency is needed here.
	if err := s.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents to %s: %w", s.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Search performs similarity search in the configured collection.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return s.query(ctx, query, k, nil)
}

// SearchWithFilters performs similarity search restricted by metadata.
func (s *ChromemStore) SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	return s.query(ctx, query, k, convertMetadataToString(filters))
}

func (s *ChromemStore) query(ctx context.Context, query string, k int, where map[string]string) (_ []SearchResult, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	defer observeOperation(backendChromem, "search", &err)()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	docCount := s.collection.Count()
	if docCount == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []SearchResult{}, nil
	}
	// chromem rejects k larger than the collection size.
	if k > docCount {
		k = docCount
	}

	results, err := s.collection.Query(ctx, query, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, res := range results {
		searchResults[i] = SearchResult{
			ID:       res.ID,
			Content:  res.Content,
			Score:    res.Similarity,
			Metadata: convertMetadataFromString(res.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// ListAll returns every stored document.
func (s *ChromemStore) ListAll(ctx context.Context) (_ []SearchResult, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.ListAll")
	defer span.End()
	defer observeOperation(backendChromem, "list_all", &err)()

	docCount := s.collection.Count()
	if docCount == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []SearchResult{}, nil
	}

	results, err := s.collection.Query(ctx, listProbe, docCount, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, res := range results {
		searchResults[i] = SearchResult{
			ID:       res.ID,
			Content:  res.Content,
			Score:    res.Similarity,
			Metadata: convertMetadataFromString(res.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// DeleteDocuments removes documents by ID.
func (s *ChromemStore) DeleteDocuments(ctx context.Context, ids []string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteDocuments")
	defer span.End()
	defer observeOperation(backendChromem, "delete_documents", &err)()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from collection %s: %w", s.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Count")
	defer span.End()

	count := s.collection.Count()
	setDocumentCount(backendChromem, count)
	span.SetAttributes(attribute.Int("count", count))
	return count, nil
}

// Info returns collection metadata.
func (s *ChromemStore) Info(ctx context.Context) (*CollectionInfo, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:       s.config.Collection,
		PointCount: count,
		VectorSize: s.config.VectorSize,
	}, nil
}

// Close closes the store. chromem-go persists on write, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// convertMetadataToString converts metadata values to chromem's string form.
func convertMetadataToString(metadata map[string]interface{}) map[string]string {
	if metadata == nil {
		return nil
	}

	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = fmt.Sprintf("%d", val)
		case int64:
			result[k] = fmt.Sprintf("%d", val)
		case float64:
			result[k] = fmt.Sprintf("%f", val)
		case bool:
			result[k] = fmt.Sprintf("%t", val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// convertMetadataFromString widens chromem's string metadata. Values stay
// strings; callers parse the fields they know are numeric.
func convertMetadataFromString(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}

	result := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}

// Ensure ChromemStore implements Store interface.
var _ Store = (*ChromemStore)(nil)
