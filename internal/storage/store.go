package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentradar/pipeline/internal/models"
)

// ErrJobNotRunning is returned when a terminal status write finds no running
// job under the given id, which would mean a double finalization.
var ErrJobNotRunning = errors.New("job is not in running state")

// Store persists listings, jobs and metrics in a document database.
type Store struct {
	client   *mongo.Client
	listings *mongo.Collection
	jobs     *mongo.Collection
	metrics  *mongo.Collection
	logger   *logrus.Logger
}

// Connect opens a client and binds the pipeline collections.
func Connect(ctx context.Context, uri, dbName string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := client.Database(dbName)
	return &Store{
		client:   client,
		listings: db.Collection("listings"),
		jobs:     db.Collection("scraping_jobs"),
		metrics:  db.Collection("scrape_metrics"),
		logger:   logger,
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the pipeline queries depend on. Safe to
// run on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.listings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sources.source", Value: 1}, {Key: "sources.sourceId", Value: 1}}},
		{Keys: bson.D{{Key: "address.fullAddress", Value: 1}}},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "updatedAt", Value: 1}}},
		{Keys: bson.D{
			{Key: "price.amount", Value: 1},
			{Key: "bedrooms", Value: 1},
			{Key: "bathrooms", Value: 1},
			{Key: "createdAt", Value: -1},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create listing indexes: %w", err)
	}

	_, err = s.jobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "jobId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create job index: %w", err)
	}

	_, err = s.metrics.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics index: %w", err)
	}

	s.logger.Info("Database indexes ensured")
	return nil
}

// withTransaction runs fn inside a session so a listing document and its
// embedded sources array are committed atomically.
func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// InsertListing persists a brand-new stored listing.
func (s *Store) InsertListing(ctx context.Context, listing *models.StoredListing) error {
	if len(listing.Sources) == 0 {
		return errors.New("refusing to insert listing without source references")
	}
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := s.listings.InsertOne(sc, listing)
		if err != nil {
			return fmt.Errorf("failed to insert listing: %w", err)
		}
		if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
			listing.ID = oid
		}
		return nil
	})
}

// UpdateListing replaces a stored listing after a merge.
func (s *Store) UpdateListing(ctx context.Context, listing *models.StoredListing) error {
	if len(listing.Sources) == 0 {
		return errors.New("refusing to update listing without source references")
	}
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := s.listings.ReplaceOne(sc, bson.M{"_id": listing.ID}, listing)
		if err != nil {
			return fmt.Errorf("failed to update listing: %w", err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("listing %s not found for update", listing.ID.Hex())
		}
		return nil
	})
}

// FindBySourceRef finds the listing already carrying the given
// (source, sourceId) provenance pair.
func (s *Store) FindBySourceRef(ctx context.Context, source, sourceID string) (*models.StoredListing, error) {
	filter := bson.M{"sources": bson.M{"$elemMatch": bson.M{"source": source, "sourceId": sourceID}}}
	return s.findOne(ctx, filter)
}

// FindByFullAddress finds a listing whose full address string matches
// exactly.
func (s *Store) FindByFullAddress(ctx context.Context, fullAddress string) (*models.StoredListing, error) {
	return s.findOne(ctx, bson.M{"address.fullAddress": fullAddress})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*models.StoredListing, error) {
	var listing models.StoredListing
	err := s.listings.FindOne(ctx, filter).Decode(&listing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// FindCandidates returns fuzzy-match candidates restricted to the same
// city, state, bedrooms and bathrooms.
func (s *Store) FindCandidates(ctx context.Context, city, state string, bedrooms *int, bathrooms *float64) ([]models.StoredListing, error) {
	filter := bson.M{
		"address.city":  city,
		"address.state": state,
		"bedrooms":      bedrooms,
		"bathrooms":     bathrooms,
	}
	cursor, err := s.listings.Find(ctx, filter, options.Find().SetLimit(100))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var candidates []models.StoredListing
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// MarkStaleInactive soft-deletes listings not updated within the staleness
// window. Data is never removed.
func (s *Store) MarkStaleInactive(ctx context.Context, daysOld int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -daysOld)
	res, err := s.listings.UpdateMany(ctx,
		bson.M{"isActive": true, "updatedAt": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"isActive": false}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale listings: %w", err)
	}
	if res.ModifiedCount > 0 {
		s.logger.WithFields(logrus.Fields{
			"count":    res.ModifiedCount,
			"days_old": daysOld,
		}).Info("Marked stale listings inactive")
	}
	return res.ModifiedCount, nil
}

// CreateJob writes the initial job record.
func (s *Store) CreateJob(ctx context.Context, job *models.ScrapingJob) error {
	if _, err := s.jobs.InsertOne(ctx, job); err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

// MarkJobRunning transitions a pending job to running.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string) error {
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"jobId": jobID, "status": models.JobStatusPending},
		bson.M{"$set": bson.M{"status": models.JobStatusRunning}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("job %s is not pending", jobID)
	}
	return nil
}

// CompleteJob writes the single terminal record for a job. The filter on the
// running status guarantees exactly one terminal write per job id.
func (s *Store) CompleteJob(ctx context.Context, job *models.ScrapingJob) error {
	res, err := s.jobs.ReplaceOne(ctx,
		bson.M{"jobId": job.JobID, "status": models.JobStatusRunning},
		job,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize job record: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotRunning, job.JobID)
	}
	return nil
}

// RecordMetrics appends one aggregate entry to the metrics time series.
func (s *Store) RecordMetrics(ctx context.Context, m *models.ScrapeMetrics) error {
	if _, err := s.metrics.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("failed to record metrics: %w", err)
	}
	return nil
}
