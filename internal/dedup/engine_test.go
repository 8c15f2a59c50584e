package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rentradar/pipeline/internal/models"
)

// fakeStore is an in-memory Store for engine tests.
type fakeStore struct {
	listings []*models.StoredListing
	updates  int
}

func (f *fakeStore) FindBySourceRef(_ context.Context, source, sourceID string) (*models.StoredListing, error) {
	for _, l := range f.listings {
		for _, ref := range l.Sources {
			if ref.Source == source && ref.SourceID == sourceID {
				return l, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeStore) FindByFullAddress(_ context.Context, fullAddress string) (*models.StoredListing, error) {
	for _, l := range f.listings {
		if l.Address.FullAddress == fullAddress {
			return l, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindCandidates(_ context.Context, city, state string, bedrooms *int, bathrooms *float64) ([]models.StoredListing, error) {
	var out []models.StoredListing
	for _, l := range f.listings {
		if l.Address.City != city || l.Address.State != state {
			continue
		}
		if !intPtrEqual(l.Bedrooms, bedrooms) || !floatPtrEqual(l.Bathrooms, bathrooms) {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (f *fakeStore) UpdateListing(_ context.Context, listing *models.StoredListing) error {
	f.updates++
	for i, l := range f.listings {
		if l.ID == listing.ID {
			f.listings[i] = listing
			return nil
		}
	}
	f.listings = append(f.listings, listing)
	return nil
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func orbPoint(lon, lat float64) *orb.Point {
	p := orb.Point{lon, lat}
	return &p
}

func normalized(source, sourceID, fullAddress string, price float64, beds int, baths float64) *models.NormalizedListing {
	addr := models.Address{FullAddress: fullAddress}
	return &models.NormalizedListing{
		Source:    source,
		SourceID:  sourceID,
		Address:   addr,
		Price:     models.Price{Amount: price, Currency: "USD", Period: "monthly"},
		Bedrooms:  intPtr(beds),
		Bathrooms: floatPtr(baths),
		ScrapedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func stored(source, sourceID, fullAddress, city, state string, price float64, beds int, baths float64) *models.StoredListing {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	return &models.StoredListing{
		ID: primitive.NewObjectID(),
		Address: models.Address{
			FullAddress: fullAddress,
			City:        city,
			State:       state,
		},
		Price:     models.Price{Amount: price, Currency: "USD", Period: "monthly"},
		Bedrooms:  intPtr(beds),
		Bathrooms: floatPtr(baths),
		Sources: []models.SourceReference{{
			Source: source, SourceID: sourceID, FirstSeenAt: now, LastSeenAt: now,
		}},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFindDuplicate_ExactSourceRef(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main St, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	// Different address text must not matter: tier 1 wins first.
	n := normalized("zillow", "z1", "totally different address", 9999, 3, 2)
	got, err := engine.FindDuplicate(context.Background(), n)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, existing.ID, got.ID)
}

func TestFindDuplicate_ExactAddress(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main St, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	n := normalized("streeteasy", "s9", "123 Main St, New York, NY 10001", 2600, 2, 1)
	got, err := engine.FindDuplicate(context.Background(), n)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, existing.ID, got.ID)
}

func TestFindDuplicate_Fuzzy(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main Street, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	n := normalized("streeteasy", "s9", "123 Main Street., New York, NY 10001", 2550, 2, 1)
	n.Address.City = "New York"
	n.Address.State = "NY"

	got, err := engine.FindDuplicate(context.Background(), n)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, existing.ID, got.ID)
}

func TestFindDuplicate_FuzzyMatchesInReverseOrder(t *testing.T) {
	// The same pair as TestFindDuplicate_Fuzzy, ingested the other way
	// around: the punctuation variant is stored first and the clean form
	// arrives second. Both orders must converge on one record.
	existing := stored("streeteasy", "s9", "123 Main Street., New York, NY 10001", "New York", "NY", 2550, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	n := normalized("zillow", "z1", "123 Main Street, New York, NY 10001", 2500, 2, 1)
	n.Address.City = "New York"
	n.Address.State = "NY"

	got, err := engine.FindDuplicate(context.Background(), n)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, existing.ID, got.ID)
}

func TestFindDuplicate_FuzzyRejectsPriceGap(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main Street, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	// Identical address but >5% price difference.
	n := normalized("streeteasy", "s9", "123 Main Street , New York, NY 10001", 3000, 2, 1)
	n.Address.City = "New York"
	n.Address.State = "NY"

	got, err := engine.FindDuplicate(context.Background(), n)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindDuplicate_FuzzyRejectsBedroomMismatch(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main Street, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	n := normalized("streeteasy", "s9", "123 Main Street, New York, NY 10001", 2500, 3, 1)
	n.Address.City = "New York"
	n.Address.State = "NY"
	// Tier 2 would match the identical string, so perturb it slightly.
	n.Address.FullAddress = "123 Main  Street, New York, NY 10001"

	got, err := engine.FindDuplicate(context.Background(), n)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindDuplicate_NoMatch(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, logrus.New())

	n := normalized("zillow", "z1", "123 Main St, New York, NY 10001", 2500, 2, 1)
	got, err := engine.FindDuplicate(context.Background(), n)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAddressSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, addressSimilarity("123 Main St", "123  MAIN st."))
	assert.Less(t, addressSimilarity("123 Main St", "999 Elm Ave"), 0.5)
	assert.Equal(t, 0.0, addressSimilarity("", "123 Main St"))
}

func TestMerge_Idempotent(t *testing.T) {
	firstSeen := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	existing := stored("zillow", "z1", "123 Main St, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	existing.Sources[0].FirstSeenAt = firstSeen
	existing.Sources[0].LastSeenAt = firstSeen
	store := &fakeStore{listings: []*models.StoredListing{existing}}

	engine := NewEngine(store, logrus.New())
	mergeTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return mergeTime }

	n := normalized("zillow", "z1", "123 Main St, New York, NY 10001", 2500, 2, 1)
	require.NoError(t, engine.Merge(context.Background(), existing, n, nil))

	// Same (source, sourceId) pair: no new reference, lastSeenAt advanced,
	// firstSeenAt untouched.
	require.Len(t, existing.Sources, 1)
	assert.Equal(t, firstSeen, existing.Sources[0].FirstSeenAt)
	assert.Equal(t, mergeTime, existing.Sources[0].LastSeenAt)
	assert.Equal(t, 1, store.updates)
}

func TestMerge_AppendsNewSourceRef(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main St, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	n := normalized("streeteasy", "s9", "123 Main St, New York, NY 10001", 2500, 2, 1)
	require.NoError(t, engine.Merge(context.Background(), existing, n, nil))

	require.Len(t, existing.Sources, 2)
	assert.Equal(t, "streeteasy", existing.Sources[1].Source)
}

func TestMerge_NeverRegressesPopulatedFields(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main St, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	existing.Images = []string{"a.jpg", "b.jpg"}
	existing.Description = "Great place"
	existing.SquareFeet = intPtr(850)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	// The incoming listing knows nothing new.
	n := normalized("streeteasy", "s9", "123 Main St, New York, NY 10001", 0, 2, 1)
	n.Images = []string{}
	require.NoError(t, engine.Merge(context.Background(), existing, n, nil))

	assert.Equal(t, []string{"a.jpg", "b.jpg"}, existing.Images)
	assert.Equal(t, "Great place", existing.Description)
	assert.Equal(t, 850, *existing.SquareFeet)
	assert.Equal(t, 2500.0, existing.Price.Amount)
}

func TestMerge_OverwritesWithNonEmptyValues(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main St, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	n := normalized("streeteasy", "s9", "123 Main St, New York, NY 10001", 2600, 2, 1)
	n.Description = "Renovated"
	n.Images = []string{"new.jpg"}
	require.NoError(t, engine.Merge(context.Background(), existing, n, nil))

	assert.Equal(t, 2600.0, existing.Price.Amount)
	assert.Equal(t, "Renovated", existing.Description)
	assert.Equal(t, []string{"new.jpg"}, existing.Images)
	assert.True(t, existing.IsActive)
}

func TestMerge_SetsMissingCoordinates(t *testing.T) {
	existing := stored("zillow", "z1", "123 Main St, New York, NY 10001", "New York", "NY", 2500, 2, 1)
	store := &fakeStore{listings: []*models.StoredListing{existing}}
	engine := NewEngine(store, logrus.New())

	n := normalized("streeteasy", "s9", "123 Main St, New York, NY 10001", 2500, 2, 1)
	point := orbPoint(-73.9857, 40.7484)
	require.NoError(t, engine.Merge(context.Background(), existing, n, point))

	require.NotNil(t, existing.Location)
	assert.Equal(t, [2]float64{-73.9857, 40.7484}, existing.Location.Coordinates)
}
