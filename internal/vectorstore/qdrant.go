package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements VectorStore using Qdrant.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client. url should be in
// "host:port" form (e.g. "localhost:6334").
func NewQdrantStore(ctx context.Context, url string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) collectionName(tenantID string) string {
	return fmt.Sprintf("tenant_%s", tenantID)
}

// CreateCollection creates a new collection for a tenant.
func (s *QdrantStore) CreateCollection(ctx context.Context, tenantID string, dimension int) error {
	name := s.collectionName(tenantID)

	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// DeleteCollection deletes a tenant's collection.
func (s *QdrantStore) DeleteCollection(ctx context.Context, tenantID string) error {
	if err := s.client.DeleteCollection(ctx, s.collectionName(tenantID)); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, tenantID string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collectionName(tenantID))
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// Upsert inserts or updates chunks in the vector store.
func (s *QdrantStore) Upsert(ctx context.Context, tenantID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]*qdrant.Value{
			"document_id": qdrant.NewValueString(chunk.DocumentID),
			"content":     qdrant.NewValueString(chunk.Content),
			"tenant":      qdrant.NewValueString(chunk.TenantID),
		}
		if len(chunk.CoreTokens) > 0 {
			tokens := make([]*qdrant.Value, len(chunk.CoreTokens))
			for j, tok := range chunk.CoreTokens {
				tokens[j] = qdrant.NewValueString(tok)
			}
			payload["core_tokens"] = qdrant.NewValueList(&qdrant.ListValue{Values: tokens})
		}
		if len(chunk.ACL) > 0 {
			acl := make([]*qdrant.Value, len(chunk.ACL))
			for j, principal := range chunk.ACL {
				acl[j] = qdrant.NewValueString(principal)
			}
			payload["acl_groups"] = qdrant.NewValueList(&qdrant.ListValue{Values: acl})
		}
		for k, v := range chunk.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Payload: payload,
			Vectors: qdrant.NewVectors(chunk.Vector...),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName(tenantID),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func buildFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if principals := f.Principals(); len(principals) > 0 {
		must = append(must, qdrant.NewMatchKeywords("acl_groups", principals...))
	}
	if len(f.Languages) > 0 {
		langs := make([]string, len(f.Languages))
		copy(langs, f.Languages)
		must = append(must, qdrant.NewMatchKeywords("language", langs...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Search performs k-NN similarity search scoped to the tenant's collection
// and filtered by ACL group and language.
func (s *QdrantStore) Search(ctx context.Context, filter Filter, vector []float32, topK int, minScore float32) ([]SearchResult, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName(filter.TenantID),
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: qdrant.PtrOf(minScore),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return toResults(response), nil
}

// KeywordSearch performs a full-text match over the core_tokens payload
// field, scoped to the tenant's collection and the same ACL/language
// filter. Qdrant's Match-based query does not expose a BM25-style score,
// so results are returned at a fixed relevance score and re-scored by the
// domain-less reranker (C6) downstream — see DESIGN.md.
func (s *QdrantStore) KeywordSearch(ctx context.Context, filter Filter, terms []string, topK int) ([]SearchResult, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	must := []*qdrant.Condition{qdrant.NewMatchKeywords("core_tokens", terms...)}
	if f := buildFilter(filter); f != nil {
		must = append(must, f.Must...)
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName(filter.TenantID),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to keyword search: %w", err)
	}
	return toResults(response), nil
}

// FetchByIDs retrieves specific chunks by ID.
func (s *QdrantStore) FetchByIDs(ctx context.Context, tenantID string, ids []string) ([]SearchResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collectionName(tenantID),
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch points: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, fromPayload(p.Id.GetUuid(), 1.0, p.Payload))
	}
	return results, nil
}

// Delete removes chunks by document ID.
func (s *QdrantStore) Delete(ctx context.Context, tenantID string, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName(tenantID),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by document ID: %w", err)
	}
	return nil
}

// DeleteByIDs removes specific chunks by their IDs.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, tenantID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName(tenantID),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by IDs: %w", err)
	}
	return nil
}

func toResults(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, fromPayload(p.Id.GetUuid(), p.Score, p.Payload))
	}
	return results
}

func fromPayload(id string, score float32, payload map[string]*qdrant.Value) SearchResult {
	result := SearchResult{ID: id, Score: score, Metadata: make(map[string]string)}
	for k, v := range payload {
		switch k {
		case "document_id":
			result.DocumentID = v.GetStringValue()
		case "content":
			result.Content = v.GetStringValue()
		case "tenant":
			result.TenantID = v.GetStringValue()
		case "acl_groups":
			result.ACL = stringListValue(v)
		case "core_tokens":
			// indexed for keyword match only, not surfaced as metadata
		default:
			result.Metadata[k] = v.GetStringValue()
		}
	}
	return result
}

// stringListValue reads back a payload field written as a Qdrant list of
// strings (acl_groups, core_tokens), tolerating the single-string shape
// older writers or manual upserts may have used.
func stringListValue(v *qdrant.Value) []string {
	if lv := v.GetListValue(); lv != nil {
		values := make([]string, 0, len(lv.Values))
		for _, item := range lv.Values {
			values = append(values, item.GetStringValue())
		}
		return values
	}
	if s := v.GetStringValue(); s != "" {
		return []string{s}
	}
	return nil
}

var _ VectorStore = (*QdrantStore)(nil)
