package behavior

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection is the behavior log collection name.
const Collection = "user_behavior_log"

// DocStoreConfig configures the MongoDB connection backing the log.
type DocStoreConfig struct {
	URL      string        `long:"url" env:"URL" default:"mongodb://localhost:27017" description:"MongoDB URL"`
	Database string        `long:"database" env:"DATABASE" default:"pulse" description:"MongoDB database holding the behavior log"`
	Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"Timeout applied to connect and ping"`
}

// ConnectDocStore dials MongoDB and verifies it's reachable.
func ConnectDocStore(ctx context.Context, cfg DocStoreConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var client, err = mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("connecting to document store: %w", err)
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("pinging document store: %w", err)
	}
	return client, nil
}

// LogStore is the behavior log: the consumer's sink and the
// recommender's aggregation source.
type LogStore struct {
	col *mongo.Collection
}

// NewLogStore builds a LogStore over the database's log collection.
func NewLogStore(db *mongo.Database) *LogStore {
	return &LogStore{col: db.Collection(Collection)}
}

// EnsureIndexes creates the log's query indexes.
func (s *LogStore) EnsureIndexes(ctx context.Context) error {
	var _, err = s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "course_id", Value: 1}}},
		{Keys: bson.D{{Key: "action_type", Value: 1}}},
		{Keys: bson.D{{Key: "created_time", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "course_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating behavior log indexes: %w", err)
	}
	return nil
}

// InsertEvent appends one event document.
func (s *LogStore) InsertEvent(ctx context.Context, ev Event) error {
	if _, err := s.col.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("inserting behavior event: %w", err)
	}
	return nil
}

// UserCourseWeights aggregates the user's summed action value per
// course.
func (s *LogStore) UserCourseWeights(ctx context.Context, userID int64) (map[int64]float64, error) {
	var cur, err = s.col.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$course_id"},
			{Key: "total_weight", Value: bson.D{{Key: "$sum", Value: "$action_value"}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregating weights of user %d: %w", userID, err)
	}
	defer cur.Close(ctx)

	var out = make(map[int64]float64)
	for cur.Next(ctx) {
		var row struct {
			CourseID int64   `bson:"_id"`
			Total    float64 `bson:"total_weight"`
		}
		if err = cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decoding user weight row: %w", err)
		}
		out[row.CourseID] = row.Total
	}
	return out, cur.Err()
}

// AllUserCourseWeights aggregates summed action value grouped by
// (user, course) across the whole log.
func (s *LogStore) AllUserCourseWeights(ctx context.Context) (map[int64]map[int64]float64, error) {
	var cur, err = s.col.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "user_id", Value: "$user_id"},
				{Key: "course_id", Value: "$course_id"},
			}},
			{Key: "total_weight", Value: bson.D{{Key: "$sum", Value: "$action_value"}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregating user-course weights: %w", err)
	}
	defer cur.Close(ctx)

	var out = make(map[int64]map[int64]float64)
	for cur.Next(ctx) {
		var row struct {
			ID struct {
				UserID   int64 `bson:"user_id"`
				CourseID int64 `bson:"course_id"`
			} `bson:"_id"`
			Total float64 `bson:"total_weight"`
		}
		if err = cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decoding user-course weight row: %w", err)
		}
		if out[row.ID.UserID] == nil {
			out[row.ID.UserID] = make(map[int64]float64)
		}
		out[row.ID.UserID][row.ID.CourseID] = row.Total
	}
	return out, cur.Err()
}

// CourseScore is a course's aggregate popularity.
type CourseScore struct {
	CourseID int64
	Score    float64
}

// CoursePopularity returns courses by descending summed action value,
// ties broken by ascending course id.
func (s *LogStore) CoursePopularity(ctx context.Context) ([]CourseScore, error) {
	var cur, err = s.col.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$course_id"},
			{Key: "total_weight", Value: bson.D{{Key: "$sum", Value: "$action_value"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "total_weight", Value: -1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregating course popularity: %w", err)
	}
	defer cur.Close(ctx)

	var out []CourseScore
	for cur.Next(ctx) {
		var row struct {
			CourseID int64   `bson:"_id"`
			Total    float64 `bson:"total_weight"`
		}
		if err = cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decoding popularity row: %w", err)
		}
		out = append(out, CourseScore{CourseID: row.CourseID, Score: row.Total})
	}
	if err = cur.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CourseID < out[j].CourseID
	})
	return out, nil
}
