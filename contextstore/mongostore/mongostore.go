// Package mongostore provides a MongoDB-backed implementation of
// contextstore.Store, the durable deployment target for production use.
// Artifacts are stored as one document per id; project-scoped queries use a
// compound index on (project_id, created_at).
package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/geniusboywonder/bmad-core/contextstore"
	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

const (
	defaultCollection = "context_artifacts"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo-backed Context Store.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
	Registry   *contextstore.SchemaRegistry // optional
}

// Store implements contextstore.Store by delegating to a MongoDB collection.
type Store struct {
	coll     *mongo.Collection
	timeout  time.Duration
	registry *contextstore.SchemaRegistry
}

// New constructs a Store, ensuring the (project_id, created_at) and
// artifact_type indexes exist.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("contextstore/mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("contextstore/mongostore: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}

	return &Store{coll: coll, timeout: timeout, registry: opts.Registry}, nil
}

func ensureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "artifact_type", Value: 1}}},
	})
	return err
}

type artifactDocument struct {
	ID           string            `bson:"_id"`
	ProjectID    string            `bson:"project_id"`
	SourceAgent  string            `bson:"source_agent"`
	ArtifactType string            `bson:"artifact_type"`
	Content      []byte            `bson:"content"`
	Metadata     map[string]string `bson:"metadata,omitempty"`
	CreatedAt    time.Time         `bson:"created_at"`
}

func fromArtifact(a domain.ContextArtifact) artifactDocument {
	return artifactDocument{
		ID:           a.ID,
		ProjectID:    a.ProjectID,
		SourceAgent:  a.SourceAgent,
		ArtifactType: a.ArtifactType,
		Content:      a.Content,
		Metadata:     a.Metadata,
		CreatedAt:    a.CreatedAt,
	}
}

func (d artifactDocument) toArtifact() domain.ContextArtifact {
	return domain.ContextArtifact{
		ID:           d.ID,
		ProjectID:    d.ProjectID,
		SourceAgent:  d.SourceAgent,
		ArtifactType: d.ArtifactType,
		Content:      d.Content,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt,
	}
}

func (d artifactDocument) toSummary() domain.ArtifactSummary {
	return domain.ArtifactSummary{
		ID:           d.ID,
		ProjectID:    d.ProjectID,
		SourceAgent:  d.SourceAgent,
		ArtifactType: d.ArtifactType,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt,
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Put implements contextstore.Store.
func (s *Store) Put(ctx context.Context, a domain.ContextArtifact) (string, error) {
	if a.ProjectID == "" || a.SourceAgent == "" || a.ArtifactType == "" {
		return "", correrr.New(correrr.CodeInvalidArtifact, "project_id, source_agent, and artifact_type are required")
	}
	if s.registry != nil {
		var content any
		if len(a.Content) > 0 {
			_ = bson.UnmarshalExtJSON(a.Content, true, &content)
		}
		if err := s.registry.Validate(a.ArtifactType, content); err != nil {
			return "", err
		}
	}

	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, fromArtifact(a)); err != nil {
		return "", correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	return a.ID, nil
}

// Get implements contextstore.Store.
func (s *Store) Get(ctx context.Context, id string) (domain.ContextArtifact, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc artifactDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ContextArtifact{}, correrr.Newf(correrr.CodeNotFound, "artifact %s not found", id)
		}
		return domain.ContextArtifact{}, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	return doc.toArtifact(), nil
}

// GetMany implements contextstore.Store, skipping unknown ids and preserving
// the order of the requested ids.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]domain.ContextArtifact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	defer cur.Close(ctx)

	byID := make(map[string]domain.ContextArtifact, len(ids))
	for cur.Next(ctx) {
		var doc artifactDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, correrr.Wrap(correrr.CodeStorageUnavailable, err)
		}
		byID[doc.ID] = doc.toArtifact()
	}
	out := make([]domain.ContextArtifact, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// Query implements contextstore.Store, ordered by created_at ascending.
func (s *Store) Query(ctx context.Context, projectID string, filter contextstore.Filter) ([]domain.ContextArtifact, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	q := bson.M{"project_id": projectID}
	if filter.ArtifactType != "" {
		q["artifact_type"] = filter.ArtifactType
	}
	if filter.SourceAgent != "" {
		q["source_agent"] = filter.SourceAgent
	}
	cur, err := s.coll.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []domain.ContextArtifact
	for cur.Next(ctx) {
		var doc artifactDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, correrr.Wrap(correrr.CodeStorageUnavailable, err)
		}
		out = append(out, doc.toArtifact())
	}
	return out, nil
}

// ListForProject implements contextstore.Store, projecting out the content
// field so large payloads are not transferred for a metadata-only listing.
func (s *Store) ListForProject(ctx context.Context, projectID string) ([]domain.ArtifactSummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetProjection(bson.M{"content": 0})
	cur, err := s.coll.Find(ctx, bson.M{"project_id": projectID}, opts)
	if err != nil {
		return nil, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []domain.ArtifactSummary
	for cur.Next(ctx) {
		var doc artifactDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, correrr.Wrap(correrr.CodeStorageUnavailable, err)
		}
		out = append(out, doc.toSummary())
	}
	return out, nil
}
