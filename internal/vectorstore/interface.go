// Package vectorstore provides vector storage backends for the pattern
// library. Two implementations are available: an embedded chromem-go store
// for single-binary deployments and a Qdrant gRPC store for shared
// deployments. Both operate on a single configured collection.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound indicates the configured collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates an empty document batch was provided.
	ErrEmptyDocuments = errors.New("documents cannot be empty")

	// ErrConnectionFailed indicates a connection to the backend failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrInvalidCollectionName indicates a collection name failed validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Document represents a document to be stored with its embedding.
type Document struct {
	// ID uniquely identifies the document. Autogenerated if empty.
	ID string

	// Content is the text that gets embedded and searched.
	Content string

	// Metadata holds structured fields attached to the document.
	//
	// The chromem backend persists metadata values as strings, so a value
	// stored as float64 comes back as its string form. Callers that need
	// typed values must parse defensively; see the patterns package.
	Metadata map[string]interface{}
}

// SearchResult represents a single result from a similarity search.
type SearchResult struct {
	// ID is the document ID.
	ID string

	// Content is the stored document text.
	Content string

	// Score is the similarity score, higher is more similar.
	// Both backends use cosine similarity in [-1, 1].
	Score float32

	// Metadata holds the stored metadata. See Document.Metadata for the
	// string round-trip caveat.
	Metadata map[string]interface{}
}

// CollectionInfo describes the configured collection.
type CollectionInfo struct {
	// Name is the collection name.
	Name string

	// PointCount is the number of stored documents.
	PointCount int

	// VectorSize is the embedding dimensionality.
	VectorSize int
}

// Embedder generates vector embeddings from text.
// Implementations live in the embeddings package.
type Embedder interface {
	// EmbedDocuments generates embeddings for a batch of texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface for vector storage backends.
//
// All operations act on the single collection the store was constructed
// with. Constructors ensure the collection exists, so callers never manage
// collections themselves.
type Store interface {
	// AddDocuments embeds and stores a batch of documents.
	// Returns the stored document IDs in input order.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// Search performs similarity search and returns up to k results
	// ordered by descending score. An empty collection yields an empty
	// slice, not an error.
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)

	// SearchWithFilters performs similarity search restricted to documents
	// whose metadata matches every filter entry.
	SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error)

	// ListAll returns every stored document. Ordering is unspecified.
	ListAll(ctx context.Context) ([]SearchResult, error)

	// DeleteDocuments removes documents by ID. Unknown IDs are ignored.
	DeleteDocuments(ctx context.Context, ids []string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Info returns collection metadata.
	Info(ctx context.Context) (*CollectionInfo, error)

	// Close releases backend resources.
	Close() error
}
