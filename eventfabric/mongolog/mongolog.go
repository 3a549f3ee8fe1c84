// Package mongolog provides a MongoDB-backed eventfabric.Log: the durable
// audit trail behind replay() and the GET /audit/events endpoint. Indexed
// the same way as contextstore/mongostore, on (project_id, timestamp).
package mongolog

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

const (
	defaultCollection = "events"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo-backed event log.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements eventfabric.Log over a MongoDB collection.
type Store struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// New constructs a Store, ensuring the (project_id, timestamp) index exists.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("eventfabric/mongolog: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("eventfabric/mongolog: database name is required")
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
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return nil, err
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

type eventDocument struct {
	ID        string         `bson:"_id"`
	ProjectID string         `bson:"project_id"`
	Kind      string         `bson:"kind"`
	Payload   map[string]any `bson:"payload,omitempty"`
	Timestamp time.Time      `bson:"timestamp"`
}

func fromEvent(e domain.Event) eventDocument {
	return eventDocument{ID: e.ID, ProjectID: e.ProjectID, Kind: string(e.Kind), Payload: e.Payload, Timestamp: e.Timestamp}
}

func (d eventDocument) toEvent() domain.Event {
	return domain.Event{ID: d.ID, ProjectID: d.ProjectID, Kind: domain.EventKind(d.Kind), Payload: d.Payload, Timestamp: d.Timestamp}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Append implements eventfabric.Log.
func (s *Store) Append(ctx context.Context, e domain.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, fromEvent(e)); err != nil {
		return correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	return nil
}

// Since implements eventfabric.Log, ordered by timestamp ascending.
func (s *Store) Since(ctx context.Context, projectID string, since time.Time) ([]domain.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	q := bson.M{"project_id": projectID, "timestamp": bson.M{"$gt": since}}
	cur, err := s.coll.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []domain.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, correrr.Wrap(correrr.CodeStorageUnavailable, err)
		}
		out = append(out, doc.toEvent())
	}
	return out, nil
}
