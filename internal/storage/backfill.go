package storage

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentradar/pipeline/internal/models"
)

// Geocoder is the slice of the geocoding service the backfill needs.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*orb.Point, error)
}

// BackfillCoordinates geocodes active listings that are still missing
// coordinates, in batches. It returns how many listings were resolved and
// how many could not be.
func (s *Store) BackfillCoordinates(ctx context.Context, geocoder Geocoder, batchSize int) (resolved, unresolved int, err error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	var lastID primitive.ObjectID
	for {
		filter := bson.M{
			"isActive":            true,
			"location":            nil,
			"address.fullAddress": bson.M{"$ne": ""},
		}
		if !lastID.IsZero() {
			filter["_id"] = bson.M{"$gt": lastID}
		}

		cursor, err := s.listings.Find(ctx, filter,
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(batchSize)))
		if err != nil {
			return resolved, unresolved, fmt.Errorf("failed to query listings for backfill: %w", err)
		}

		var batch []models.StoredListing
		if err := cursor.All(ctx, &batch); err != nil {
			return resolved, unresolved, fmt.Errorf("failed to read backfill batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			listing := &batch[i]
			lastID = listing.ID

			point, err := geocoder.Geocode(ctx, listing.Address.FullAddress)
			if err != nil {
				s.logger.WithError(err).WithField("listing_id", listing.ID.Hex()).Warn("Backfill geocoding failed")
				unresolved++
				continue
			}
			if point == nil {
				unresolved++
				continue
			}

			_, err = s.listings.UpdateOne(ctx,
				bson.M{"_id": listing.ID},
				bson.M{"$set": bson.M{"location": models.NewGeoPoint(*point)}},
			)
			if err != nil {
				return resolved, unresolved, fmt.Errorf("failed to store backfilled coordinates: %w", err)
			}
			resolved++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"resolved":   resolved,
		"unresolved": unresolved,
	}).Info("Coordinate backfill completed")
	return resolved, unresolved, nil
}
