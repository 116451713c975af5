package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/ragquery/internal/vectorstore"
)

type fakeStore struct {
	vectorHits  []vectorstore.SearchResult
	vectorErr   error
	keywordHits []vectorstore.SearchResult
	keywordErr  error
}

func (f fakeStore) Search(ctx context.Context, filter vectorstore.Filter, vector []float32, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return f.vectorHits, f.vectorErr
}

func (f fakeStore) KeywordSearch(ctx context.Context, filter vectorstore.Filter, terms []string, topK int) ([]vectorstore.SearchResult, error) {
	return f.keywordHits, f.keywordErr
}

func (f fakeStore) FetchByIDs(ctx context.Context, tenantID string, ids []string) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (fakeStore) CreateCollection(ctx context.Context, tenantID string, dimension int) error {
	return nil
}
func (fakeStore) DeleteCollection(ctx context.Context, tenantID string) error { return nil }
func (fakeStore) CollectionExists(ctx context.Context, tenantID string) (bool, error) {
	return true, nil
}
func (fakeStore) Upsert(ctx context.Context, tenantID string, chunks []vectorstore.Chunk) error {
	return nil
}
func (fakeStore) Delete(ctx context.Context, tenantID string, documentID string) error { return nil }
func (fakeStore) DeleteByIDs(ctx context.Context, tenantID string, ids []string) error  { return nil }

func (f fakeStore) Close() error { return nil }

func TestRetrieveMergesOverlappingHitsBySharedID(t *testing.T) {
	store := fakeStore{
		vectorHits:  []vectorstore.SearchResult{{ID: "x", Content: "chunk x", Score: 0.8}},
		keywordHits: []vectorstore.SearchResult{{ID: "x", Content: "chunk x", Score: 0.5}},
	}
	svc := New(store)

	result, signal := svc.Retrieve(context.Background(), vectorstore.Filter{}, []float32{0.1}, []string{"x"}, 10, 0)
	require.Nil(t, result.Err())
	assert.False(t, result.IsDegraded())
	assert.Equal(t, "retrieval", signal.Stage)

	val, ok := result.Value()
	require.True(t, ok)
	require.Len(t, val.Items, 1)
	assert.True(t, val.Items[0].HasVector)
	assert.True(t, val.Items[0].HasKeyword)
	assert.Len(t, val.Items[0].Sources, 2)
}

func TestRetrieveDegradesWhenOneBranchFails(t *testing.T) {
	store := fakeStore{
		vectorHits: []vectorstore.SearchResult{{ID: "x", Content: "chunk x", Score: 0.8}},
		keywordErr: errors.New("keyword index unreachable"),
	}
	svc := New(store)

	result, signal := svc.Retrieve(context.Background(), vectorstore.Filter{}, []float32{0.1}, []string{"x"}, 10, 0)
	require.Nil(t, result.Err())
	assert.True(t, result.IsDegraded())
	assert.True(t, signal.Degraded)

	val, ok := result.Value()
	require.True(t, ok)
	require.Len(t, val.Items, 1)
}

func TestRetrieveFailsWhenBothBranchesFail(t *testing.T) {
	store := fakeStore{
		vectorErr:  errors.New("vector store down"),
		keywordErr: errors.New("keyword index down"),
	}
	svc := New(store)

	result, _ := svc.Retrieve(context.Background(), vectorstore.Filter{}, []float32{0.1}, []string{"x"}, 10, 0)
	require.NotNil(t, result.Err())
}

func TestRetrieveDiscardsCandidateWithMismatchedTenant(t *testing.T) {
	store := fakeStore{
		vectorHits: []vectorstore.SearchResult{
			{ID: "x", Content: "chunk x", Score: 0.8, TenantID: "tenant-a"},
			{ID: "y", Content: "chunk y", Score: 0.7, TenantID: "tenant-b"},
		},
	}
	svc := New(store)

	result, _ := svc.Retrieve(context.Background(), vectorstore.Filter{TenantID: "tenant-a", UserID: "u1"}, []float32{0.1}, nil, 10, 0)
	val, ok := result.Value()
	require.True(t, ok)
	require.Len(t, val.Items, 1)
	assert.Equal(t, "x", val.Items[0].ChunkID)
}

func TestRetrieveDiscardsCandidateWithNoACLOverlap(t *testing.T) {
	store := fakeStore{
		vectorHits: []vectorstore.SearchResult{
			{ID: "x", Content: "chunk x", Score: 0.8, TenantID: "tenant-a", ACL: []string{"eng"}},
			{ID: "y", Content: "chunk y", Score: 0.7, TenantID: "tenant-a", ACL: []string{"finance"}},
		},
	}
	svc := New(store)

	result, _ := svc.Retrieve(context.Background(), vectorstore.Filter{TenantID: "tenant-a", UserID: "u1", GroupIDs: []string{"eng"}}, []float32{0.1}, nil, 10, 0)
	val, ok := result.Value()
	require.True(t, ok)
	require.Len(t, val.Items, 1)
	assert.Equal(t, "x", val.Items[0].ChunkID)
}
