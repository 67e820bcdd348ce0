package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"regdocs-chat/internal/logger"
	"regdocs-chat/internal/models"
)

// Field names for the Milvus chunk collection
const (
	milvusFieldID       = "id"
	milvusFieldFilename = "filename"
	milvusFieldText     = "text"
	milvusFieldVector   = "vector"
)

// MilvusIndex is a chunk index backed by one Milvus collection. Each
// namespace is a partition of that collection, named by partitionName.
type MilvusIndex struct {
	client     *milvusclient.Client
	collection string

	mu         sync.Mutex
	partitions map[string]bool
}

// NewMilvusIndex connects to Milvus and ensures the chunk collection exists
// and is loaded.
func NewMilvusIndex(ctx context.Context, address, username, password, collection string, embeddingDim int) (*MilvusIndex, error) {
	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  address,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", address, err)
	}

	m := &MilvusIndex{
		client:     client,
		collection: collection,
		partitions: make(map[string]bool),
	}
	if err := m.ensureCollection(ctx, embeddingDim); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	return m, nil
}

func (m *MilvusIndex) ensureCollection(ctx context.Context, embeddingDim int) error {
	exists, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(m.collection))
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "Regulatory document chunks",
			Fields: []*entity.Field{
				{
					Name:       milvusFieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "100"},
				},
				{
					Name:       milvusFieldFilename,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "255"},
				},
				{
					Name:       milvusFieldText,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "65535"},
				},
				{
					Name:       milvusFieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(embeddingDim)},
				},
			},
		}

		if err := m.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(m.collection, schema)); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", m.collection, err)
		}

		idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		if _, err := m.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(m.collection, milvusFieldVector, idx)); err != nil {
			return fmt.Errorf("failed to create index on vector field: %w", err)
		}
		logger.Info("created milvus collection %s (dim=%d)", m.collection, embeddingDim)
	}

	return m.load(ctx)
}

// load loads the collection into memory; Milvus requires this for searching.
func (m *MilvusIndex) load(ctx context.Context) error {
	task, err := m.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(m.collection))
	if err != nil {
		return fmt.Errorf("failed to load collection %s: %w", m.collection, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed waiting for collection %s to load: %w", m.collection, err)
	}
	return nil
}

// partitionName maps a namespace onto a valid Milvus partition name, which
// may only hold letters, digits and underscores and must not start with a
// digit.
func partitionName(namespace string) string {
	var b strings.Builder
	for i, r := range namespace {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_default"
	}
	return b.String()
}

// ensurePartition creates the namespace partition on first use.
func (m *MilvusIndex) ensurePartition(ctx context.Context, namespace string) error {
	partition := partitionName(namespace)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.partitions[partition] {
		return nil
	}

	exists, err := m.client.HasPartition(ctx, milvusclient.NewHasPartitionOption(m.collection, partition))
	if err != nil {
		return fmt.Errorf("failed to check partition %s: %w", partition, err)
	}
	if !exists {
		if err := m.client.CreatePartition(ctx, milvusclient.NewCreatePartitionOption(m.collection, partition)); err != nil {
			return fmt.Errorf("failed to create partition %s: %w", partition, err)
		}
		// partitions created after the collection was loaded must be loaded too
		if err := m.load(ctx); err != nil {
			return err
		}
	}

	m.partitions[partition] = true
	return nil
}

// Upsert writes chunks into the namespace partition.
func (m *MilvusIndex) Upsert(ctx context.Context, namespace string, chunks []models.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := m.ensurePartition(ctx, namespace); err != nil {
		return err
	}

	dim := len(chunks[0].Embedding)
	ids := make([]string, len(chunks))
	filenames := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.New().String()
		}
		if len(chunks[i].Embedding) != dim {
			return fmt.Errorf("chunk %d has %d dimensions, expected %d", i, len(chunks[i].Embedding), dim)
		}
		ids[i] = chunks[i].ID
		filenames[i] = chunks[i].Filename
		texts[i] = chunks[i].Text
		vectors[i] = chunks[i].Embedding
	}

	opt := milvusclient.NewColumnBasedInsertOption(m.collection).
		WithVarcharColumn(milvusFieldID, ids).
		WithVarcharColumn(milvusFieldFilename, filenames).
		WithVarcharColumn(milvusFieldText, texts).
		WithFloatVectorColumn(milvusFieldVector, dim, vectors).
		WithPartition(partitionName(namespace))

	if _, err := m.client.Upsert(ctx, opt); err != nil {
		return fmt.Errorf("failed to upsert %d chunks into %s: %w", len(chunks), namespace, err)
	}
	return nil
}

// Query searches the namespace partition for the topK chunks nearest to
// vector. Results keep the order Milvus returns them in.
func (m *MilvusIndex) Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		return []models.RetrievedChunk{}, nil
	}

	expr, err := filterExpression(filter)
	if err != nil {
		return nil, err
	}

	opt := milvusclient.NewSearchOption(m.collection, topK, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(milvusFieldVector).
		WithOutputFields(milvusFieldFilename, milvusFieldText).
		WithPartitions(partitionName(namespace))
	if expr != "" {
		opt = opt.WithFilter(expr)
	}

	results, err := m.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", namespace, err)
	}

	if len(results) == 0 {
		return []models.RetrievedChunk{}, nil
	}
	chunks, err := retrievedChunks(&results[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read search results from %s: %w", namespace, err)
	}
	return chunks, nil
}

func retrievedChunks(rs *milvusclient.ResultSet) ([]models.RetrievedChunk, error) {
	if rs.Err != nil {
		return nil, rs.Err
	}
	texts := rs.GetColumn(milvusFieldText)
	filenames := rs.GetColumn(milvusFieldFilename)
	if texts == nil || filenames == nil {
		return nil, fmt.Errorf("search result is missing output fields")
	}

	chunks := make([]models.RetrievedChunk, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		text, err := texts.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read text of result %d: %w", i, err)
		}
		filename, err := filenames.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read filename of result %d: %w", i, err)
		}

		var score float32
		if i < len(rs.Scores) {
			score = rs.Scores[i]
		}
		chunks = append(chunks, models.RetrievedChunk{
			Text:             text,
			Score:            score,
			MetadataFilename: filename,
		})
	}
	return chunks, nil
}

// DeleteDocument removes every chunk of filename from the namespace partition.
func (m *MilvusIndex) DeleteDocument(ctx context.Context, namespace, filename string) error {
	if err := m.ensurePartition(ctx, namespace); err != nil {
		return err
	}

	expr, err := filterExpression(map[string]string{milvusFieldFilename: filename})
	if err != nil {
		return err
	}
	opt := milvusclient.NewDeleteOption(m.collection).
		WithExpr(expr).
		WithPartition(partitionName(namespace))

	if _, err := m.client.Delete(ctx, opt); err != nil {
		return fmt.Errorf("failed to delete chunks of %s from %s: %w", filename, namespace, err)
	}
	return nil
}

// Close closes the Milvus connection.
func (m *MilvusIndex) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}

// filterExpression compiles an equality filter into a Milvus boolean
// expression. Keys are emitted in sorted order.
func filterExpression(filter map[string]string) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}

	fields := make([]string, 0, len(filter))
	for field := range filter {
		if field != milvusFieldFilename && field != milvusFieldID {
			return "", fmt.Errorf("unsupported filter field %q", field)
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	clauses := make([]string, 0, len(fields))
	for _, field := range fields {
		clauses = append(clauses, fmt.Sprintf("%s == %s", field, strconv.Quote(filter[field])))
	}
	return strings.Join(clauses, " && "), nil
}
