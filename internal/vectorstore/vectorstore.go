// Package vectorstore provides the interface and Qdrant adapter the
// retrieval stage (C4a/C4b) and section reconstructor (C8) search against.
// Keyword search is a mode of the same store rather than a second engine —
// see DESIGN.md for why bleve was not wired here.
package vectorstore

import "context"

// Chunk represents a document chunk with its embedding, as written by the
// (out-of-scope) ingestion pipeline.
type Chunk struct {
	ID         string
	DocumentID string
	TenantID   string
	ACL        []string // principals (user and/or group IDs) allowed to see this chunk
	Content    string
	Vector     []float32
	CoreTokens []string // indexed field C4b matches keyword queries against
	Metadata   map[string]string
}

// SearchResult represents a single hit from the vector store. TenantID and
// ACL are carried back alongside the content so the retrieval stage can
// re-verify them in-process (the defense-in-depth half of C1's filter,
// independent of whatever the store's own push-down enforced).
type SearchResult struct {
	ID         string
	DocumentID string
	TenantID   string
	ACL        []string
	Content    string
	Score      float32
	Metadata   map[string]string
}

// Filter narrows a search to the caller's tenant, ACL principals (the
// caller's own user ID plus their group IDs), and allowed languages. This is
// the push-down half of spec.md's filter; the retrieval stage re-verifies
// the same tenant/ACL conditions in-process against the TenantID/ACL each
// SearchResult carries back, so isolation does not depend solely on the
// store enforcing it.
type Filter struct {
	TenantID  string
	UserID    string
	GroupIDs  []string
	Languages []string
}

// Principals returns the ACL principal set {userID} ∪ groupIDs this filter
// authorizes, per spec.md §4.1.
func (f Filter) Principals() []string {
	principals := make([]string, 0, len(f.GroupIDs)+1)
	if f.UserID != "" {
		principals = append(principals, f.UserID)
	}
	principals = append(principals, f.GroupIDs...)
	return principals
}

// VectorStore defines the interface for vector storage and payload search.
type VectorStore interface {
	CreateCollection(ctx context.Context, tenantID string, dimension int) error
	DeleteCollection(ctx context.Context, tenantID string) error
	CollectionExists(ctx context.Context, tenantID string) (bool, error)

	Upsert(ctx context.Context, tenantID string, chunks []Chunk) error

	// Search performs k-NN similarity search over dense vectors, scoped by
	// filter (C4a).
	Search(ctx context.Context, filter Filter, vector []float32, topK int, minScore float32) ([]SearchResult, error)

	// KeywordSearch performs a full-text match over indexed payload fields,
	// scoped by filter (C4b).
	KeywordSearch(ctx context.Context, filter Filter, terms []string, topK int) ([]SearchResult, error)

	// FetchByIDs retrieves specific chunks by ID, used by the section
	// reconstructor (C8) to pull sibling parts.
	FetchByIDs(ctx context.Context, tenantID string, ids []string) ([]SearchResult, error)

	Delete(ctx context.Context, tenantID string, documentID string) error
	DeleteByIDs(ctx context.Context, tenantID string, ids []string) error
}
