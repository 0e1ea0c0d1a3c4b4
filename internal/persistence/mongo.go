package persistence

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jmakela/tome/pkg/api"
)

// MongoHistoryStore is an api.HistoryStore backed by MongoDB.
// Each summary is one document keyed by (session_id, chapter), and
// recording a summary upserts, so rewrites never create duplicates.
type MongoHistoryStore struct {
	coll *mongo.Collection
}

// Ensure it implements api.HistoryStore.
var _ api.HistoryStore = (*MongoHistoryStore)(nil)

// NewMongoHistoryStore creates a Mongo-backed history store.
// dbName defaults to "tome" if empty, collName defaults to "summaries".
func NewMongoHistoryStore(client *mongo.Client, dbName, collName string) *MongoHistoryStore {
	if dbName == "" {
		dbName = "tome"
	}
	if collName == "" {
		collName = "summaries"
	}

	return &MongoHistoryStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoSummaryDoc struct {
	SessionID  string `bson:"session_id"`
	Chapter    int    `bson:"chapter"`
	Content    string `bson:"content"`
	RecordedAt int64  `bson:"recorded_at"`
}

func (s *MongoHistoryStore) RecordSummary(ctx context.Context, summary api.ChapterSummary) error {
	recordedAt := summary.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	filter := bson.M{
		"session_id": summary.SessionID,
		"chapter":    summary.Chapter,
	}
	update := bson.M{
		"$set": bson.M{
			"content":     summary.Content,
			"recorded_at": recordedAt.UnixNano(),
		},
	}

	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoHistoryStore) Summaries(ctx context.Context, sessionID string) ([]api.ChapterSummary, error) {
	opts := options.Find().SetSort(bson.D{{Key: "chapter", Value: 1}})

	cur, err := s.coll.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var summaries []api.ChapterSummary

	for cur.Next(ctx) {
		var doc mongoSummaryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		summaries = append(summaries, api.ChapterSummary{
			SessionID:  doc.SessionID,
			Chapter:    doc.Chapter,
			Content:    doc.Content,
			RecordedAt: time.Unix(0, doc.RecordedAt),
		})
	}

	if err := cur.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}
