package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// --- Mocks ---

type mockPoints struct {
	pb.PointsClient
	upserted   *pb.UpsertPoints
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	countResp  *pb.CountResponse
	countErr   error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return m.countResp, m.countErr
}

type mockCollections struct {
	pb.CollectionsClient
	listResp  *pb.ListCollectionsResponse
	created   *pb.CreateCollection
	createErr error
	deleted   []string
	deleteErr error
	getResp   *pb.GetCollectionInfoResponse
	getErr    error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if m.listResp == nil {
		return &pb.ListCollectionsResponse{}, nil
	}
	return m.listResp, nil
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.deleted = append(m.deleted, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}
func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return m.getResp, m.getErr
}

func collectionInfo(size uint64, d pb.Distance) *pb.GetCollectionInfoResponse {
	return &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{
		Config: &pb.CollectionConfig{Params: &pb.CollectionParams{
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: size, Distance: d},
			}},
		}},
	}}
}

// --- Tests ---

func TestQdrant_CreateCollection(t *testing.T) {
	cols := &mockCollections{}
	q := NewQdrantWithClients(&mockPoints{}, cols, "localhost:6334")
	c, err := q.CreateCollection(context.Background(), "tickets", CollectionOptions{Dimension: 4, Distance: L2})
	if err != nil {
		t.Fatal(err)
	}
	if c.Dimension != 4 || c.Distance != L2 {
		t.Fatalf("unexpected collection %+v", c)
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 4 || params.GetDistance() != pb.Distance_Euclid {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestQdrant_CreateNeedsDimension(t *testing.T) {
	q := NewQdrantWithClients(&mockPoints{}, &mockCollections{}, "x")
	if _, err := q.CreateCollection(context.Background(), "c", CollectionOptions{}); err == nil {
		t.Fatal("expected error without dimension")
	}
}

func TestQdrant_CreateExisting(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: "c"}},
	}}
	q := NewQdrantWithClients(&mockPoints{}, cols, "x")
	_, err := q.CreateCollection(context.Background(), "c", CollectionOptions{Dimension: 2})
	if !errors.Is(err, ErrCollectionExists) {
		t.Fatalf("expected ErrCollectionExists, got %v", err)
	}

	if _, err := q.CreateCollection(context.Background(), "c", CollectionOptions{Dimension: 2, Overwrite: true}); err != nil {
		t.Fatal(err)
	}
	if len(cols.deleted) != 1 || cols.deleted[0] != "c" {
		t.Fatalf("overwrite should delete first, deleted=%v", cols.deleted)
	}
}

func TestQdrant_GetCollection(t *testing.T) {
	cols := &mockCollections{getResp: collectionInfo(384, pb.Distance_Cosine)}
	q := NewQdrantWithClients(&mockPoints{}, cols, "x")
	c, err := q.GetCollection(context.Background(), "c")
	if err != nil || c.Dimension != 384 || c.Distance != Cosine {
		t.Fatalf("got %+v, %v", c, err)
	}

	cols.getErr = status.Error(codes.NotFound, "no such collection")
	if _, err := q.GetCollection(context.Background(), "c"); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestQdrant_DeleteMissingIsNoop(t *testing.T) {
	cols := &mockCollections{deleteErr: status.Error(codes.NotFound, "gone")}
	q := NewQdrantWithClients(&mockPoints{}, cols, "x")
	if err := q.DeleteCollection(context.Background(), "c"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	cols.deleteErr = errors.New("unavailable")
	if err := q.DeleteCollection(context.Background(), "c"); err == nil {
		t.Fatal("expected error")
	}
}

func TestQdrant_AddMapsIDs(t *testing.T) {
	pts := &mockPoints{}
	q := NewQdrantWithClients(pts, &mockCollections{}, "x")
	err := q.Add(context.Background(), "c", []Record{{
		ID: "ticket_1", Embedding: []float32{1, 0}, Document: "text",
		Metadata: map[string]string{"subject": "Login"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	p := pts.upserted.GetPoints()[0]
	if p.GetId().GetUuid() != pointID("c", "ticket_1") {
		t.Fatalf("unexpected point id %s", p.GetId().GetUuid())
	}
	payload := p.GetPayload()
	if payload[payloadRecordID].GetStringValue() != "ticket_1" ||
		payload[payloadDocument].GetStringValue() != "text" ||
		payload["subject"].GetStringValue() != "Login" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if pointID("c", "ticket_1") != pointID("c", "ticket_1") || pointID("c", "ticket_1") == pointID("d", "ticket_1") {
		t.Fatal("point ids should be stable per collection")
	}
}

func TestQdrant_AddInvalid(t *testing.T) {
	q := NewQdrantWithClients(&mockPoints{}, &mockCollections{}, "x")
	if err := q.Add(context.Background(), "c", []Record{{ID: "a"}}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestQdrant_Count(t *testing.T) {
	pts := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 7}}}
	q := NewQdrantWithClients(pts, &mockCollections{}, "x")
	n, err := q.Count(context.Background(), "c")
	if err != nil || n != 7 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestQdrant_QueryConvertsScores(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "u1"}},
		Score: 0.75,
		Payload: map[string]*pb.Value{
			payloadRecordID: stringValue("ticket_9"),
			payloadDocument: stringValue("doc"),
			"product":       stringValue("Router"),
		},
	}}}}
	cols := &mockCollections{getResp: collectionInfo(2, pb.Distance_Cosine)}
	q := NewQdrantWithClients(pts, cols, "x")

	matches, err := q.Query(context.Background(), "c", []float32{1, 0}, 3, IncludeAll)
	if err != nil {
		t.Fatal(err)
	}
	m := matches[0]
	if m.ID != "ticket_9" || !near(m.Distance, 0.25) || m.Document != "doc" {
		t.Fatalf("unexpected match %+v", m)
	}
	if _, ok := m.Metadata[payloadRecordID]; ok || m.Metadata["product"] != "Router" {
		t.Fatalf("reserved keys should be stripped: %v", m.Metadata)
	}
	if pts.searchReq.GetLimit() != 3 {
		t.Fatalf("limit = %d", pts.searchReq.GetLimit())
	}
}

func TestQdrant_Location(t *testing.T) {
	q := NewQdrantWithClients(&mockPoints{}, &mockCollections{}, "db:6334")
	if q.Location() != "qdrant://db:6334" {
		t.Fatal(q.Location())
	}
	if n, err := q.DiskUsage(); n != 0 || err != nil {
		t.Fatal("remote store has no local disk usage")
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestScoreToDistance(t *testing.T) {
	if d := scoreToDistance(L2, 3); d != 9 {
		t.Fatalf("l2: %v", d)
	}
	if d := scoreToDistance(InnerProduct, 0.4); !near(d, 0.6) {
		t.Fatalf("ip: %v", d)
	}
}
