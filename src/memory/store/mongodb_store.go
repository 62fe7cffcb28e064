package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/google/uuid"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

// MongoStore implements MemoryStore on MongoDB. It does not implement
// GraphStore; deployments that need the knowledge graph compose it with
// Neo4jStore instead.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

const mongoCloseTimeout = 5 * time.Second

var _ MemoryStore = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		return nil, errors.New("mongo collection name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

type mongoMemoryDocument struct {
	ID             string    `bson:"_id"`
	Content        string    `bson:"content"`
	Embedding      []float64 `bson:"embedding,omitempty"`
	Importance     float64   `bson:"importance"`
	Category       string    `bson:"category"`
	Source         string    `bson:"source"`
	Status         string    `bson:"status"`
	IsCore         bool      `bson:"is_core"`
	Invalidated    bool      `bson:"invalidated"`
	CreatedAt      time.Time `bson:"created_at"`
	AgentID        string    `bson:"agent_id"`
	SessionKey     string    `bson:"session_key"`
	ParetoScore    float64   `bson:"pareto_score"`
	DecayScore     float64   `bson:"decay_score"`
	ReferenceCount int       `bson:"reference_count"`
}

func docFromMemory(mem *model.Memory) mongoMemoryDocument {
	return mongoMemoryDocument{
		ID:             mem.ID,
		Content:        mem.Content,
		Embedding:      float64Embedding(mem.Embedding),
		Importance:     mem.Importance,
		Category:       string(mem.Category),
		Source:         mem.Source,
		Status:         string(mem.Status),
		IsCore:         mem.IsCore,
		Invalidated:    mem.Invalidated,
		CreatedAt:      mem.CreatedAt,
		AgentID:        mem.AgentID,
		SessionKey:     mem.SessionKey,
		ParetoScore:    mem.ParetoScore,
		DecayScore:     mem.DecayScore,
		ReferenceCount: mem.ReferenceCount,
	}
}

func (doc mongoMemoryDocument) toMemory() model.Memory {
	return model.Memory{
		ID:             doc.ID,
		Content:        doc.Content,
		Embedding:      float32Embedding(doc.Embedding),
		Importance:     doc.Importance,
		Category:       model.Category(doc.Category),
		Source:         doc.Source,
		Status:         model.ExtractionStatus(doc.Status),
		IsCore:         doc.IsCore,
		Invalidated:    doc.Invalidated,
		CreatedAt:      doc.CreatedAt,
		AgentID:        doc.AgentID,
		SessionKey:     doc.SessionKey,
		ParetoScore:    doc.ParetoScore,
		DecayScore:     doc.DecayScore,
		ReferenceCount: doc.ReferenceCount,
	}
}

func (ms *MongoStore) Create(ctx context.Context, mem *model.Memory) error {
	if ms == nil || ms.collection == nil || mem == nil {
		return errors.New("mongo store is not initialized")
	}
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	if mem.Category == "" {
		mem.Category = model.CategoryOther
	}
	if err := mem.Validate(0); err != nil {
		return err
	}
	_, err := ms.collection.InsertOne(ctx, docFromMemory(mem))
	return err
}

func (ms *MongoStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	if ms == nil || ms.collection == nil {
		return nil, errors.New("mongo store is not initialized")
	}
	var doc mongoMemoryDocument
	err := ms.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	mem := doc.toMemory()
	return &mem, nil
}

func (ms *MongoStore) Update(ctx context.Context, mem *model.Memory) error {
	if ms == nil || ms.collection == nil || mem == nil {
		return errors.New("mongo store is not initialized")
	}
	if err := mem.Validate(0); err != nil {
		return err
	}
	res, err := ms.collection.ReplaceOne(ctx, bson.M{"_id": mem.ID}, docFromMemory(mem))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (ms *MongoStore) Delete(ctx context.Context, ids []string) error {
	if ms == nil || ms.collection == nil || len(ids) == 0 {
		return nil
	}
	_, err := ms.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

// SearchSimilar scans candidate documents and scores them client side.
// Fine at personal-assistant scale; Atlas deployments can switch to
// $vectorSearch without changing callers.
func (ms *MongoStore) SearchSimilar(ctx context.Context, vector []float32, threshold float64, limit int, scope model.Scope) ([]model.Memory, error) {
	if ms == nil || ms.collection == nil || limit <= 0 {
		return nil, nil
	}
	filter := scopeFilter(scope)
	filter["embedding"] = bson.M{"$exists": true, "$ne": nil}
	cursor, err := ms.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var scored []model.Memory
	for cursor.Next(ctx) {
		var doc mongoMemoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		mem := doc.toMemory()
		sim := model.CosineSimilarity(vector, mem.Embedding)
		if sim < threshold {
			continue
		}
		mem.Score = sim
		scored = append(scored, mem)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (ms *MongoStore) SearchLexical(ctx context.Context, text string, limit int, scope model.Scope) ([]model.Memory, error) {
	if ms == nil || ms.collection == nil || limit <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	filter := scopeFilter(scope)
	filter["$text"] = bson.M{"$search": text}
	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetLimit(int64(limit))
	cursor, err := ms.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []model.Memory
	for cursor.Next(ctx) {
		var doc struct {
			mongoMemoryDocument `bson:",inline"`
			Score               float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		mem := doc.toMemory()
		mem.Score = doc.Score
		out = append(out, mem)
	}
	return out, cursor.Err()
}

func (ms *MongoStore) ListByCategory(ctx context.Context, category model.Category, limit, offset int, scope model.Scope) ([]model.Memory, error) {
	filter := scopeFilter(scope)
	filter["category"] = string(category)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	return ms.findMemories(ctx, filter, opts)
}

func (ms *MongoStore) ListByStatus(ctx context.Context, status model.ExtractionStatus, limit int, scope model.Scope) ([]model.Memory, error) {
	filter := scopeFilter(scope)
	filter["status"] = string(status)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return ms.findMemories(ctx, filter, opts)
}

func (ms *MongoStore) findMemories(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Memory, error) {
	if ms == nil || ms.collection == nil {
		return nil, nil
	}
	cursor, err := ms.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []model.Memory
	for cursor.Next(ctx) {
		var doc mongoMemoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toMemory())
	}
	return out, cursor.Err()
}

func (ms *MongoStore) SetCore(ctx context.Context, ids []string, core bool) error {
	if ms == nil || ms.collection == nil || len(ids) == 0 {
		return nil
	}
	_, err := ms.collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{"$set": bson.M{"is_core": core}})
	return err
}

func (ms *MongoStore) MarkInvalidated(ctx context.Context, id string) error {
	if ms == nil || ms.collection == nil {
		return nil
	}
	res, err := ms.collection.UpdateByID(ctx, id, bson.M{"$set": bson.M{"invalidated": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (ms *MongoStore) IncrementReference(ctx context.Context, ids []string) error {
	if ms == nil || ms.collection == nil || len(ids) == 0 {
		return nil
	}
	_, err := ms.collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{"$inc": bson.M{"reference_count": 1}})
	return err
}

func (ms *MongoStore) Stats(ctx context.Context, scope model.Scope) (model.StoreStats, error) {
	stats := model.StoreStats{ByCategory: make(map[model.Category]int)}
	if ms == nil || ms.collection == nil {
		return stats, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: scopeFilter(scope)}},
		{{Key: "$group", Value: bson.M{
			"_id":     "$category",
			"total":   bson.M{"$sum": 1},
			"core":    bson.M{"$sum": bson.M{"$cond": bson.A{"$is_core", 1, 0}}},
			"pending": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$status", "pending"}}, 1, 0}}},
		}}},
	}
	cursor, err := ms.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return stats, err
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var row struct {
			Category string `bson:"_id"`
			Total    int    `bson:"total"`
			Core     int    `bson:"core"`
			Pending  int    `bson:"pending"`
		}
		if err := cursor.Decode(&row); err != nil {
			return stats, err
		}
		stats.ByCategory[model.Category(row.Category)] = row.Total
		stats.Total += row.Total
		stats.Core += row.Core
		stats.Pending += row.Pending
	}
	return stats, cursor.Err()
}

func (ms *MongoStore) Iterate(ctx context.Context, scope model.Scope, fn func(model.Memory) bool) error {
	if ms == nil || ms.collection == nil {
		return nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := ms.collection.Find(ctx, scopeFilter(scope), opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc mongoMemoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		if !fn(doc.toMemory()) {
			break
		}
	}
	return cursor.Err()
}

func (ms *MongoStore) Count(ctx context.Context, scope model.Scope) (int, error) {
	if ms == nil || ms.collection == nil {
		return 0, nil
	}
	count, err := ms.collection.CountDocuments(ctx, scopeFilter(scope))
	return int(count), err
}

func (ms *MongoStore) Reindex(ctx context.Context, batchSize int, embedFn BatchEmbedFunc) (int, error) {
	if ms == nil || ms.collection == nil {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	updated := 0
	for {
		filter := bson.M{"$or": bson.A{
			bson.M{"embedding": bson.M{"$exists": false}},
			bson.M{"embedding": nil},
			bson.M{"embedding": bson.M{"$size": 0}},
		}}
		opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(batchSize))
		cursor, err := ms.collection.Find(ctx, filter, opts)
		if err != nil {
			return updated, err
		}
		var ids []string
		var texts []string
		for cursor.Next(ctx) {
			var doc mongoMemoryDocument
			if err := cursor.Decode(&doc); err != nil {
				cursor.Close(ctx)
				return updated, err
			}
			ids = append(ids, doc.ID)
			texts = append(texts, doc.Content)
		}
		cursor.Close(ctx)
		if err := cursor.Err(); err != nil {
			return updated, err
		}
		if len(ids) == 0 {
			return updated, nil
		}
		vecs, err := embedFn(ctx, texts)
		if err != nil {
			return updated, err
		}
		progressed := false
		for i, vec := range vecs {
			if len(vec) == 0 {
				continue
			}
			if _, err := ms.collection.UpdateByID(ctx, ids[i], bson.M{"$set": bson.M{"embedding": float64Embedding(vec)}}); err != nil {
				return updated, err
			}
			updated++
			progressed = true
		}
		if !progressed {
			return updated, nil
		}
	}
}

// CreateSchema ensures the collection has useful indexes.
func (ms *MongoStore) CreateSchema(ctx context.Context) error {
	if ms == nil || ms.collection == nil {
		return nil
	}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "agent_id", Value: 1}, {Key: "session_key", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("scope_created_at"),
		},
		{
			Keys:    bson.D{{Key: "category", Value: 1}},
			Options: options.Index().SetName("category"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("status"),
		},
		{
			Keys:    bson.D{{Key: "content", Value: "text"}},
			Options: options.Index().SetName("content_text"),
		},
	}
	_, err := ms.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Close releases the underlying MongoDB client.
func (ms *MongoStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func scopeFilter(scope model.Scope) bson.M {
	filter := bson.M{}
	if scope.AgentID != "" {
		filter["agent_id"] = scope.AgentID
	}
	if scope.SessionKey != "" {
		filter["session_key"] = scope.SessionKey
	}
	return filter
}

func float64Embedding(vec []float32) []float64 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func float32Embedding(vec []float64) []float32 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
