package semantic

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Payload keys reserved for the record id and document text. Metadata is
// stored alongside them as plain string values.
const (
	payloadRecordID = "_record_id"
	payloadDocument = "_document"
)

// QdrantStore is a Store backed by a Qdrant server over gRPC. Qdrant point
// ids must be UUIDs, so record ids are mapped to name-based UUIDs and the
// original id travels in the payload.
type QdrantStore struct {
	addr        string
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient

	mu        sync.Mutex
	distances map[string]Distance
}

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	s := NewQdrantWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), addr)
	s.conn = conn
	return s, nil
}

// NewQdrantWithClients builds a store over existing gRPC clients.
func NewQdrantWithClients(points pb.PointsClient, collections pb.CollectionsClient, addr string) *QdrantStore {
	return &QdrantStore{
		addr:        addr,
		points:      points,
		collections: collections,
		distances:   make(map[string]Distance),
	}
}

func (q *QdrantStore) Location() string { return "qdrant://" + q.addr }

func (q *QdrantStore) DiskUsage() (int64, error) { return 0, nil }

// Close closes the underlying gRPC connection, if this store dialled it.
func (q *QdrantStore) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func (q *QdrantStore) CreateCollection(ctx context.Context, name string, opts CollectionOptions) (Collection, error) {
	dist, err := ParseDistance(string(opts.Distance))
	if err != nil {
		return Collection{}, err
	}
	if opts.Dimension <= 0 {
		return Collection{}, fmt.Errorf("semantic: create collection %s: qdrant needs a vector dimension", name)
	}

	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return Collection{}, fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() != name {
			continue
		}
		if !opts.Overwrite {
			return Collection{}, fmt.Errorf("semantic: create collection %s: %w", name, ErrCollectionExists)
		}
		if err := q.DeleteCollection(ctx, name); err != nil {
			return Collection{}, err
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(opts.Dimension),
					Distance: toQdrantDistance(dist),
				},
			},
		},
	})
	if err != nil {
		return Collection{}, fmt.Errorf("semantic: create collection %s: %w", name, err)
	}
	q.setDistance(name, dist)
	return Collection{Name: name, Distance: dist, Dimension: opts.Dimension}, nil
}

func (q *QdrantStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	resp, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Collection{}, fmt.Errorf("semantic: collection %s: %w", name, ErrCollectionNotFound)
		}
		return Collection{}, fmt.Errorf("semantic: get collection %s: %w", name, err)
	}
	params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	dist := fromQdrantDistance(params.GetDistance())
	q.setDistance(name, dist)
	return Collection{Name: name, Distance: dist, Dimension: int(params.GetSize())}, nil
}

func (q *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("semantic: delete collection %s: %w", name, err)
	}
	q.mu.Lock()
	delete(q.distances, name)
	q.mu.Unlock()
	return nil
}

func (q *QdrantStore) Add(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return fmt.Errorf("semantic: add to %s: %w", collection, err)
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = stringValue(v)
		}
		payload[payloadRecordID] = stringValue(r.ID)
		payload[payloadDocument] = stringValue(r.Document)

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(collection, r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("semantic: add to %s: %w", collection, ErrCollectionNotFound)
		}
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

func (q *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{CollectionName: collection, Exact: &exact})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, fmt.Errorf("semantic: count %s: %w", collection, ErrCollectionNotFound)
		}
		return 0, fmt.Errorf("semantic: count %s: %w", collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Query converts Qdrant scores back into distances so results compare the
// same way as the local store.
func (q *QdrantStore) Query(ctx context.Context, collection string, embedding []float32, k int, include Include) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	dist, err := q.distance(ctx, collection)
	if err != nil {
		return nil, err
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("semantic: query %s: %w", collection, ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	out := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		m := Match{ID: payload[payloadRecordID].GetStringValue()}
		if m.ID == "" {
			m.ID = r.GetId().GetUuid()
		}
		if include.Has(IncludeDistances) {
			m.Distance = scoreToDistance(dist, r.GetScore())
		}
		if include.Has(IncludeDocuments) {
			m.Document = payload[payloadDocument].GetStringValue()
		}
		if include.Has(IncludeMetadatas) {
			m.Metadata = make(map[string]string, len(payload))
			for k, v := range payload {
				if k == payloadRecordID || k == payloadDocument {
					continue
				}
				m.Metadata[k] = v.GetStringValue()
			}
		}
		out[i] = m
	}
	return out, nil
}

func (q *QdrantStore) distance(ctx context.Context, collection string) (Distance, error) {
	q.mu.Lock()
	d, ok := q.distances[collection]
	q.mu.Unlock()
	if ok {
		return d, nil
	}
	c, err := q.GetCollection(ctx, collection)
	if err != nil {
		return "", err
	}
	return c.Distance, nil
}

func (q *QdrantStore) setDistance(name string, d Distance) {
	q.mu.Lock()
	q.distances[name] = d
	q.mu.Unlock()
}

func pointID(collection, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+id)).String()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func toQdrantDistance(d Distance) pb.Distance {
	switch d {
	case L2:
		return pb.Distance_Euclid
	case InnerProduct:
		return pb.Distance_Dot
	default:
		return pb.Distance_Cosine
	}
}

func fromQdrantDistance(d pb.Distance) Distance {
	switch d {
	case pb.Distance_Euclid:
		return L2
	case pb.Distance_Dot:
		return InnerProduct
	default:
		return Cosine
	}
}

// scoreToDistance maps a Qdrant similarity score onto this package's
// distance scale. Qdrant reports plain Euclidean distance for Euclid.
func scoreToDistance(d Distance, score float32) float32 {
	switch d {
	case L2:
		return score * score
	default:
		return 1 - score
	}
}
