package dedup

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"rentradar/pipeline/internal/models"
)

const (
	// Minimum normalized address similarity for a fuzzy match.
	similarityThreshold = 0.90
	// Maximum price difference relative to the larger price.
	priceTolerance = 0.05
)

// Store is the slice of the storage layer the engine needs. Candidate
// queries are already restricted to the same city, state, bedrooms and
// bathrooms.
type Store interface {
	FindBySourceRef(ctx context.Context, source, sourceID string) (*models.StoredListing, error)
	FindByFullAddress(ctx context.Context, fullAddress string) (*models.StoredListing, error)
	FindCandidates(ctx context.Context, city, state string, bedrooms *int, bathrooms *float64) ([]models.StoredListing, error)
	UpdateListing(ctx context.Context, listing *models.StoredListing) error
}

// Engine decides whether a normalized listing is a new record or a merge
// target, and owns the merge semantics.
type Engine struct {
	store  Store
	logger *logrus.Logger
	now    func() time.Time
}

// NewEngine creates a deduplication engine backed by the given store.
func NewEngine(store Store, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Engine{store: store, logger: logger, now: time.Now}
}

// FindDuplicate runs the three-tier matching cascade. The tiers must run in
// this order: later tiers are strictly more permissive and must not shadow
// exact matches.
func (e *Engine) FindDuplicate(ctx context.Context, n *models.NormalizedListing) (*models.StoredListing, error) {
	// Tier 1: the same ad re-scraped.
	if n.SourceID != "" {
		existing, err := e.store.FindBySourceRef(ctx, n.Source, n.SourceID)
		if err != nil {
			return nil, fmt.Errorf("source ref lookup failed: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	if n.Address.FullAddress == "" {
		return nil, nil
	}

	// Tier 2: exact address match.
	existing, err := e.store.FindByFullAddress(ctx, n.Address.FullAddress)
	if err != nil {
		return nil, fmt.Errorf("address lookup failed: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	// Tier 3: fuzzy match among same city/state/bedrooms/bathrooms.
	if n.Address.City == "" {
		return nil, nil
	}
	candidates, err := e.store.FindCandidates(ctx, n.Address.City, n.Address.State, n.Bedrooms, n.Bathrooms)
	if err != nil {
		return nil, fmt.Errorf("candidate lookup failed: %w", err)
	}
	for i := range candidates {
		if e.fuzzyMatch(n, &candidates[i]) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) fuzzyMatch(n *models.NormalizedListing, candidate *models.StoredListing) bool {
	// The candidate query filters on bedrooms/bathrooms; restated here as an
	// invariant.
	if !intPtrEqual(n.Bedrooms, candidate.Bedrooms) || !floatPtrEqual(n.Bathrooms, candidate.Bathrooms) {
		return false
	}

	sim := addressSimilarity(n.Address.FullAddress, candidate.Address.FullAddress)
	if sim < similarityThreshold {
		return false
	}

	if n.Price.Amount > 0 && candidate.Price.Amount > 0 {
		larger := n.Price.Amount
		if candidate.Price.Amount > larger {
			larger = candidate.Price.Amount
		}
		diff := n.Price.Amount - candidate.Price.Amount
		if diff < 0 {
			diff = -diff
		}
		if diff > priceTolerance*larger {
			return false
		}
	}

	e.logger.WithFields(logrus.Fields{
		"address":    n.Address.FullAddress,
		"candidate":  candidate.Address.FullAddress,
		"similarity": sim,
	}).Debug("Fuzzy match")
	return true
}

var addressNoiseRe = regexp.MustCompile(`[^a-z0-9 ]+`)

// addressSimilarity is 1 - editDistance/max(len1, len2) over normalized
// address strings.
func addressSimilarity(a, b string) float64 {
	a, b = normalizeAddress(a), normalizeAddress(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func normalizeAddress(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = addressNoiseRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Merge folds a normalized listing into an existing stored record: the union
// of knowledge, not a source-of-truth swap. Populated fields are only ever
// overwritten by non-empty values.
func (e *Engine) Merge(ctx context.Context, existing *models.StoredListing, n *models.NormalizedListing, location *orb.Point) error {
	now := e.now()
	e.mergeSourceRef(existing, n, now)
	mergeFields(existing, n)

	if existing.Location == nil && location != nil {
		existing.Location = models.NewGeoPoint(*location)
	}

	existing.IsActive = true
	existing.ScrapedAt = n.ScrapedAt
	existing.UpdatedAt = now

	if err := e.store.UpdateListing(ctx, existing); err != nil {
		return fmt.Errorf("failed to update merged listing: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"listing_id": existing.ID.Hex(),
		"source":     n.Source,
		"sources":    len(existing.Sources),
	}).Info("Merged listing")
	return nil
}

// mergeSourceRef appends a new provenance record for an unseen
// (source, sourceId) pair, or bumps lastSeenAt on the existing one.
func (e *Engine) mergeSourceRef(existing *models.StoredListing, n *models.NormalizedListing, now time.Time) {
	for i := range existing.Sources {
		ref := &existing.Sources[i]
		if ref.Source == n.Source && ref.SourceID == n.SourceID {
			ref.LastSeenAt = now
			if n.SourceURL != "" {
				ref.SourceURL = n.SourceURL
			}
			return
		}
	}
	existing.Sources = append(existing.Sources, models.SourceReference{
		Source:      n.Source,
		SourceID:    n.SourceID,
		SourceURL:   n.SourceURL,
		FirstSeenAt: now,
		LastSeenAt:  now,
	})
}

// mergeFields applies last-writer-wins-if-non-null to every scalar and array
// field.
func mergeFields(existing *models.StoredListing, n *models.NormalizedListing) {
	if n.Address.FullAddress != "" {
		existing.Address = n.Address
	}
	if n.Price.Amount > 0 {
		existing.Price = n.Price
	}
	if n.Bedrooms != nil {
		existing.Bedrooms = n.Bedrooms
	}
	if n.Bathrooms != nil {
		existing.Bathrooms = n.Bathrooms
	}
	if n.SquareFeet != nil {
		existing.SquareFeet = n.SquareFeet
	}
	if n.Description != "" {
		existing.Description = n.Description
	}
	if len(n.Images) > 0 {
		existing.Images = n.Images
	}
	if len(n.FloorPlanImages) > 0 {
		existing.FloorPlanImages = n.FloorPlanImages
	}
	if len(n.Amenities) > 0 {
		existing.Amenities = n.Amenities
	}

	existing.PetPolicy.Allowed = n.PetPolicy.Allowed
	if n.PetPolicy.Restrictions != "" {
		existing.PetPolicy.Restrictions = n.PetPolicy.Restrictions
	}
	if n.PetPolicy.Deposit != nil {
		existing.PetPolicy.Deposit = n.PetPolicy.Deposit
	}

	existing.BrokerFee.Required = n.BrokerFee.Required
	if n.BrokerFee.Amount != nil {
		existing.BrokerFee.Amount = n.BrokerFee.Amount
	}
	if n.BrokerFee.Percentage != nil {
		existing.BrokerFee.Percentage = n.BrokerFee.Percentage
	}

	mergeDetails(&existing.Details, &n.Details)
}

func mergeDetails(existing *models.Details, n *models.Details) {
	if n.BuildingType != "" {
		existing.BuildingType = n.BuildingType
	}
	if n.YearBuilt != nil {
		existing.YearBuilt = n.YearBuilt
	}
	if n.UnitCount != nil {
		existing.UnitCount = n.UnitCount
	}
	if n.Parking != "" {
		existing.Parking = n.Parking
	}
	if n.LeaseLength != "" {
		existing.LeaseLength = n.LeaseLength
	}
	if n.SecurityDeposit != nil {
		existing.SecurityDeposit = n.SecurityDeposit
	}
	if n.MoveInDate != "" {
		existing.MoveInDate = n.MoveInDate
	}
	if len(n.UtilitiesIncluded) > 0 {
		existing.UtilitiesIncluded = n.UtilitiesIncluded
	}
	if n.Laundry != "" {
		existing.Laundry = n.Laundry
	}
	if n.Heating != "" {
		existing.Heating = n.Heating
	}
	if n.Cooling != "" {
		existing.Cooling = n.Cooling
	}
	if n.Contact != nil {
		existing.Contact = n.Contact
	}
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
