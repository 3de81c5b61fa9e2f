package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/metrics"
)

// Options configures the vector store connection.
type Options struct {
	Host      string
	Scheme    string
	ClassName string
}

// Chunk is one ingestible document fragment with its embedding.
type Chunk struct {
	Text       string
	Source     string
	ChunkIndex int
	Vector     []float32
}

// Snippet is one retrieval hit.
type Snippet struct {
	Text      string
	Source    string
	Certainty float64
}

// Store wraps a Weaviate instance holding the knowledge-base class.
// Vectors are computed client side, so the class uses no vectorizer module.
type Store struct {
	client    *weaviate.Client
	className string
	log       *logger.Logger
}

// New connects to Weaviate. It does not touch the schema; call EnsureSchema
// before ingesting.
func New(opts Options, log *logger.Logger) (*Store, error) {
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "http"
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   opts.Host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Store{
		client:    client,
		className: opts.ClassName,
		log:       log,
	}, nil
}

// ClassName returns the configured class name.
func (s *Store) ClassName() string { return s.className }

// Ready reports whether the Weaviate instance is reachable and ready.
func (s *Store) Ready(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness check: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate is not ready")
	}
	return nil
}

func (s *Store) schema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       s.className,
		Description: "Knowledge-base chunks for welfare-board questions",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "Chunk content",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Origin document of the chunk",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "chunkIndex",
				DataType:    []string{"int"},
				Description: "Position of the chunk within its source",
			},
		},
	}
}

// EnsureSchema creates the class if it does not exist. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.client.Schema().ClassGetter().WithClassName(s.className).Do(ctx)
	if err == nil {
		s.log.Debug("Vector class already exists", "class", s.className)
		return nil
	}

	s.log.Info("Creating vector class", "class", s.className)
	if err := s.client.Schema().ClassCreator().WithClass(s.schema()).Do(ctx); err != nil {
		return fmt.Errorf("creating class %s: %w", s.className, err)
	}
	return nil
}

// DeleteClass drops the class and everything in it. Used before re-ingesting.
func (s *Store) DeleteClass(ctx context.Context) error {
	if err := s.client.Schema().ClassDeleter().WithClassName(s.className).Do(ctx); err != nil {
		return fmt.Errorf("deleting class %s: %w", s.className, err)
	}
	s.log.Info("Vector class deleted", "class", s.className)
	return nil
}

// BatchUpsert stores the chunks with their precomputed vectors and returns
// the number accepted.
func (s *Store) BatchUpsert(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class: s.className,
			Properties: map[string]interface{}{
				"text":       c.Text,
				"source":     c.Source,
				"chunkIndex": c.ChunkIndex,
			},
			Vector: c.Vector,
		}
	}

	result, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import failed: %w", err)
	}

	stored := 0
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors == nil {
			stored++
		}
	}
	if stored < len(chunks) {
		s.log.Warn("Batch import stored fewer objects than submitted",
			"submitted", len(chunks), "stored", stored)
	}
	return stored, nil
}

// QueryTopK runs a near-vector search and returns up to k snippets ranked by
// certainty. Certainty is in [0,1]; the caller applies its own threshold.
func (s *Store) QueryTopK(ctx context.Context, vector []float32, k int) ([]Snippet, error) {
	start := time.Now()
	defer func() { metrics.VectorQueryDuration.Observe(time.Since(start).Seconds()) }()

	if k <= 0 {
		k = 5
	}

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("vector search error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Snippet{}, nil
	}
	objects, ok := data[s.className].([]interface{})
	if !ok {
		return []Snippet{}, nil
	}

	snippets := make([]Snippet, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		snippet := Snippet{
			Text:   getString(m, "text"),
			Source: getString(m, "source"),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if c, ok := add["certainty"].(float64); ok {
				snippet.Certainty = c
			}
		}
		snippets = append(snippets, snippet)
	}

	return snippets, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
