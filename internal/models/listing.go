package models

import (
	"time"

	"github.com/paulmach/orb"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RawListing is one record returned by a source adapter. It only lives for
// the duration of a single pipeline pass.
type RawListing struct {
	Source    string         `json:"source"`
	SourceURL string         `json:"source_url"`
	SourceID  string         `json:"source_id"`
	Payload   map[string]any `json:"payload"`
	ScrapedAt time.Time      `json:"scraped_at"`
}

// ParsedListing is a RawListing after defensive type coercion. Missing or
// malformed values become nil rather than zero values.
type ParsedListing struct {
	Source    string
	SourceURL string
	SourceID  string

	Address     *string
	Price       *float64
	Bedrooms    *int
	Bathrooms   *float64
	SquareFeet  *int
	Description *string

	Images          []string
	FloorPlanImages []string
	Amenities       []string

	PetPolicyText string
	BrokerFeeText string

	BuildingType      *string
	YearBuilt         *int
	UnitCount         *int
	Parking           *string
	LeaseLength       *string
	SecurityDeposit   *float64
	MoveInDate        *string
	UtilitiesIncluded []string
	Laundry           *string
	Heating           *string
	Cooling           *string
	ContactName       *string
	ContactPhone      *string
	ContactEmail      *string

	ScrapedAt time.Time
}

// Address is the structured form of a listing address. FullAddress keeps the
// raw string and is what deduplication matches on.
type Address struct {
	Street      string `bson:"street,omitempty" json:"street,omitempty"`
	City        string `bson:"city,omitempty" json:"city,omitempty"`
	State       string `bson:"state,omitempty" json:"state,omitempty"`
	Zip         string `bson:"zip,omitempty" json:"zip,omitempty"`
	FullAddress string `bson:"fullAddress" json:"fullAddress"`
}

// Price is assumed monthly USD; no unit conversion is performed.
type Price struct {
	Amount   float64 `bson:"amount" json:"amount"`
	Currency string  `bson:"currency" json:"currency"`
	Period   string  `bson:"period" json:"period"`
}

type PetPolicy struct {
	Allowed      bool     `bson:"allowed" json:"allowed"`
	Restrictions string   `bson:"restrictions,omitempty" json:"restrictions,omitempty"`
	Deposit      *float64 `bson:"deposit,omitempty" json:"deposit,omitempty"`
}

type BrokerFee struct {
	Required   bool     `bson:"required" json:"required"`
	Amount     *float64 `bson:"amount,omitempty" json:"amount,omitempty"`
	Percentage *float64 `bson:"percentage,omitempty" json:"percentage,omitempty"`
}

type ContactInfo struct {
	Name  string `bson:"name,omitempty" json:"name,omitempty"`
	Phone string `bson:"phone,omitempty" json:"phone,omitempty"`
	Email string `bson:"email,omitempty" json:"email,omitempty"`
}

// Details holds the secondary listing attributes.
type Details struct {
	BuildingType      string       `bson:"buildingType,omitempty" json:"buildingType,omitempty"`
	YearBuilt         *int         `bson:"yearBuilt,omitempty" json:"yearBuilt,omitempty"`
	UnitCount         *int         `bson:"unitCount,omitempty" json:"unitCount,omitempty"`
	Parking           string       `bson:"parking,omitempty" json:"parking,omitempty"`
	LeaseLength       string       `bson:"leaseLength,omitempty" json:"leaseLength,omitempty"`
	SecurityDeposit   *float64     `bson:"securityDeposit,omitempty" json:"securityDeposit,omitempty"`
	MoveInDate        string       `bson:"moveInDate,omitempty" json:"moveInDate,omitempty"`
	UtilitiesIncluded []string     `bson:"utilitiesIncluded,omitempty" json:"utilitiesIncluded,omitempty"`
	Laundry           string       `bson:"laundry,omitempty" json:"laundry,omitempty"`
	Heating           string       `bson:"heating,omitempty" json:"heating,omitempty"`
	Cooling           string       `bson:"cooling,omitempty" json:"cooling,omitempty"`
	Contact           *ContactInfo `bson:"contact,omitempty" json:"contact,omitempty"`
}

// NormalizedListing is the canonical, source-agnostic representation. It is
// produced fresh on every pipeline pass and never persisted directly.
type NormalizedListing struct {
	Source    string
	SourceURL string
	SourceID  string

	Address         Address
	Price           Price
	Bedrooms        *int
	Bathrooms       *float64
	SquareFeet      *int
	Description     string
	Images          []string
	FloorPlanImages []string
	Amenities       []string
	PetPolicy       PetPolicy
	BrokerFee       BrokerFee
	Details         Details

	ScrapedAt time.Time
}

// SourceReference links a stored listing to one (source, sourceId) pair it
// was matched from.
type SourceReference struct {
	Source      string    `bson:"source" json:"source"`
	SourceID    string    `bson:"sourceId" json:"sourceId"`
	SourceURL   string    `bson:"sourceUrl,omitempty" json:"sourceUrl,omitempty"`
	FirstSeenAt time.Time `bson:"firstSeenAt" json:"firstSeenAt"`
	LastSeenAt  time.Time `bson:"lastSeenAt" json:"lastSeenAt"`
}

// GeoPoint is a GeoJSON point as stored under the 2dsphere index.
// Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string     `bson:"type" json:"type"`
	Coordinates [2]float64 `bson:"coordinates" json:"coordinates"`
}

// NewGeoPoint converts an orb.Point into its GeoJSON document form.
func NewGeoPoint(p orb.Point) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: [2]float64{p.Lon(), p.Lat()}}
}

// StoredListing is the persisted entity. It is created once, when no
// duplicate is found, and thereafter only mutated by merges or by the
// staleness sweep. Invariant: Sources is never empty.
type StoredListing struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`

	Address         Address  `bson:"address" json:"address"`
	Price           Price    `bson:"price" json:"price"`
	Bedrooms        *int     `bson:"bedrooms" json:"bedrooms"`
	Bathrooms       *float64 `bson:"bathrooms" json:"bathrooms"`
	SquareFeet      *int     `bson:"squareFeet,omitempty" json:"squareFeet,omitempty"`
	Description     string   `bson:"description,omitempty" json:"description,omitempty"`
	Images          []string `bson:"images,omitempty" json:"images,omitempty"`
	FloorPlanImages []string `bson:"floorPlanImages,omitempty" json:"floorPlanImages,omitempty"`
	Amenities       []string `bson:"amenities,omitempty" json:"amenities,omitempty"`

	PetPolicy PetPolicy `bson:"petPolicy" json:"petPolicy"`
	BrokerFee BrokerFee `bson:"brokerFee" json:"brokerFee"`
	Details   Details   `bson:"details" json:"details"`

	Location *GeoPoint         `bson:"location,omitempty" json:"location,omitempty"`
	Sources  []SourceReference `bson:"sources" json:"sources"`

	IsActive  bool      `bson:"isActive" json:"isActive"`
	ScrapedAt time.Time `bson:"scrapedAt" json:"scrapedAt"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// NewStoredListing builds the initial persisted record for a normalized
// listing that matched no existing one.
func NewStoredListing(n *NormalizedListing, location *orb.Point, now time.Time) *StoredListing {
	s := &StoredListing{
		Address:         n.Address,
		Price:           n.Price,
		Bedrooms:        n.Bedrooms,
		Bathrooms:       n.Bathrooms,
		SquareFeet:      n.SquareFeet,
		Description:     n.Description,
		Images:          n.Images,
		FloorPlanImages: n.FloorPlanImages,
		Amenities:       n.Amenities,
		PetPolicy:       n.PetPolicy,
		BrokerFee:       n.BrokerFee,
		Details:         n.Details,
		Sources: []SourceReference{{
			Source:      n.Source,
			SourceID:    n.SourceID,
			SourceURL:   n.SourceURL,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}},
		IsActive:  true,
		ScrapedAt: n.ScrapedAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if location != nil {
		s.Location = NewGeoPoint(*location)
	}
	return s
}

// ScrapeConfig is the generic search request a source adapter turns into
// concrete page URLs. Pages is the number of result pages to fetch; the
// page number itself is chosen by the adapter while paginating.
type ScrapeConfig struct {
	Location string
	MinPrice *int
	MaxPrice *int
	Bedrooms *int
	Pages    int
}
