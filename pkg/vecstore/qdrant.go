package vecstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// Qdrant is a Store backed by a Qdrant server over gRPC.
type Qdrant struct {
	client *qdrant.Client
}

var _ Store = (*Qdrant)(nil)

// QdrantConfig configures the Qdrant connection.
type QdrantConfig struct {
	Host   string // default "localhost"
	Port   int    // gRPC port, default 6334
	APIKey string
	UseTLS bool
}

// NewQdrant creates a Qdrant-backed Store.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			// The connection is long-lived and mostly idle between
			// requests; keepalives stop NAT timeouts from killing it.
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vecstore: connect qdrant: %w", err)
	}
	return &Qdrant{client: client}, nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("vecstore: check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vecstore: create collection %s: %w", name, err)
	}
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(payload),
		}},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("vecstore: upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, collection string, query []float32, params SearchParams) ([]Match, error) {
	if params.Limit <= 0 {
		return nil, nil
	}
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(params.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if params.MinScore > 0 {
		req.ScoreThreshold = qdrant.PtrOf(params.MinScore)
	}
	if len(params.Must) > 0 {
		var must []*qdrant.Condition
		for field, value := range params.Must {
			must = append(must, qdrant.NewMatch(field, value))
		}
		req.Filter = &qdrant.Filter{Must: must}
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vecstore: search %s: %w", collection, err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, Match{
			ID:      p.GetId().GetUuid(),
			Score:   p.GetScore(),
			Payload: payloadToMap(p.GetPayload()),
		})
	}
	return matches, nil
}

func (q *Qdrant) Delete(ctx context.Context, collection, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(id)),
	})
	if err != nil {
		return fmt.Errorf("vecstore: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (q *Qdrant) Health(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vecstore: health: %w", err)
	}
	return nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

// payloadToMap converts a Qdrant payload to plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, 0, len(items))
		for _, item := range items {
			list = append(list, valueToAny(item))
		}
		return list
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
