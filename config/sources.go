package config

import (
	"net/url"
	"strconv"
	"strings"

	"rentradar/pipeline/internal/models"
)

// Source describes one external rental-listing platform. The pipeline has a
// single generic adapter; everything site-specific lives in this record.
type Source struct {
	Name string
	// SearchURL is a template with {location}, {minPrice}, {maxPrice},
	// {bedrooms} and {page} placeholders.
	SearchURL string
	// Group is the rotation group the source belongs to.
	Group int
	// ExtractionSchema describes the fields the extraction service should
	// pull from the page.
	ExtractionSchema map[string]any
}

// BuildSearchURL resolves the template for one search request page.
func (s *Source) BuildSearchURL(cfg models.ScrapeConfig, page int) string {
	minPrice, maxPrice, bedrooms := "", "", ""
	if cfg.MinPrice != nil {
		minPrice = strconv.Itoa(*cfg.MinPrice)
	}
	if cfg.MaxPrice != nil {
		maxPrice = strconv.Itoa(*cfg.MaxPrice)
	}
	if cfg.Bedrooms != nil {
		bedrooms = strconv.Itoa(*cfg.Bedrooms)
	}
	r := strings.NewReplacer(
		"{location}", url.QueryEscape(cfg.Location),
		"{minPrice}", minPrice,
		"{maxPrice}", maxPrice,
		"{bedrooms}", bedrooms,
		"{page}", strconv.Itoa(page),
	)
	return r.Replace(s.SearchURL)
}

// listingSchema is the extraction schema shared by every source: an array of
// loosely-typed listing objects.
func listingSchema() map[string]any {
	fields := map[string]any{
		"address":         map[string]any{"type": "string"},
		"price":           map[string]any{"type": "number"},
		"bedrooms":        map[string]any{"type": "number"},
		"bathrooms":       map[string]any{"type": "number"},
		"squareFeet":      map[string]any{"type": "number"},
		"description":     map[string]any{"type": "string"},
		"images":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"floorPlanImages": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"amenities":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"petPolicy":       map[string]any{"type": "string"},
		"brokerFee":       map[string]any{"type": "string"},
		"url":             map[string]any{"type": "string"},
		"id":              map[string]any{"type": "string"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"listings": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object", "properties": fields},
			},
		},
	}
}

// Sources is the registry of all supported platforms, partitioned into three
// rotation groups so one scheduler invocation fits the execution window.
var Sources = []Source{
	{Name: "streeteasy", Group: 0, SearchURL: "https://streeteasy.com/for-rent/{location}?price={minPrice}-{maxPrice}&beds={bedrooms}&page={page}", ExtractionSchema: listingSchema()},
	{Name: "zillow", Group: 0, SearchURL: "https://www.zillow.com/homes/for_rent/{location}/{page}_p/?price={minPrice}-{maxPrice}", ExtractionSchema: listingSchema()},
	{Name: "apartments", Group: 0, SearchURL: "https://www.apartments.com/{location}/{minPrice}-to-{maxPrice}/{page}/", ExtractionSchema: listingSchema()},
	{Name: "craigslist", Group: 0, SearchURL: "https://newyork.craigslist.org/search/apa?query={location}&min_price={minPrice}&max_price={maxPrice}&s={page}", ExtractionSchema: listingSchema()},
	{Name: "trulia", Group: 0, SearchURL: "https://www.trulia.com/for_rent/{location}/{page}_p/", ExtractionSchema: listingSchema()},

	{Name: "hotpads", Group: 1, SearchURL: "https://hotpads.com/{location}/apartments-for-rent?price={minPrice}-{maxPrice}&page={page}", ExtractionSchema: listingSchema()},
	{Name: "zumper", Group: 1, SearchURL: "https://www.zumper.com/apartments-for-rent/{location}?min-price={minPrice}&max-price={maxPrice}&page={page}", ExtractionSchema: listingSchema()},
	{Name: "renthop", Group: 1, SearchURL: "https://www.renthop.com/search/{location}?min_price={minPrice}&max_price={maxPrice}&page={page}", ExtractionSchema: listingSchema()},
	{Name: "padmapper", Group: 1, SearchURL: "https://www.padmapper.com/apartments/{location}?price={minPrice}-{maxPrice}&page={page}", ExtractionSchema: listingSchema()},
	{Name: "realtor", Group: 1, SearchURL: "https://www.realtor.com/apartments/{location}/pg-{page}?price={minPrice}-{maxPrice}", ExtractionSchema: listingSchema()},

	{Name: "rentdotcom", Group: 2, SearchURL: "https://www.rent.com/{location}/apartments?page={page}", ExtractionSchema: listingSchema()},
	{Name: "apartmentlist", Group: 2, SearchURL: "https://www.apartmentlist.com/{location}?page={page}", ExtractionSchema: listingSchema()},
	{Name: "rentberry", Group: 2, SearchURL: "https://rentberry.com/apartments/s/{location}?page={page}", ExtractionSchema: listingSchema()},
	{Name: "dwellsy", Group: 2, SearchURL: "https://dwellsy.com/search?location={location}&page={page}", ExtractionSchema: listingSchema()},
	{Name: "avail", Group: 2, SearchURL: "https://www.avail.co/listings/{location}?page={page}", ExtractionSchema: listingSchema()},
}

// SourceNames returns the names of all registered sources.
func SourceNames() []string {
	names := make([]string, len(Sources))
	for i, s := range Sources {
		names[i] = s.Name
	}
	return names
}

// SourceByName returns a source configuration by name.
func SourceByName(name string) *Source {
	for i := range Sources {
		if Sources[i].Name == name {
			return &Sources[i]
		}
	}
	return nil
}

// RotationGroups partitions the registry into its rotation groups, ordered
// by group index.
func RotationGroups() [][]string {
	maxGroup := 0
	for _, s := range Sources {
		if s.Group > maxGroup {
			maxGroup = s.Group
		}
	}
	groups := make([][]string, maxGroup+1)
	for _, s := range Sources {
		groups[s.Group] = append(groups[s.Group], s.Name)
	}
	return groups
}
