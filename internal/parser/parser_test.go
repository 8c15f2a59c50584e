package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentradar/pipeline/internal/models"
)

func rawWith(payload map[string]any) models.RawListing {
	return models.RawListing{
		Source:    "testsource",
		SourceURL: "https://example.com/1",
		SourceID:  "l1",
		Payload:   payload,
		ScrapedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestParse(t *testing.T) {
	parsed := Parse(rawWith(map[string]any{
		"address":     "123 Main St, New York, NY 10001",
		"price":       "$2,500",
		"bedrooms":    2.0,
		"bathrooms":   "1.5",
		"sqft":        850.0,
		"description": "  Sunny two bedroom  ",
		"images":      []any{"a.jpg", nil, "", "b.jpg"},
		"amenities":   []any{"Dishwasher", nil, "A/C"},
		"petPolicy":   "cats allowed",
		"brokerFee":   "no fee",
		"yearBuilt":   "1925",
	}))

	require.NotNil(t, parsed)
	assert.Equal(t, "testsource", parsed.Source)
	assert.Equal(t, "123 Main St, New York, NY 10001", *parsed.Address)
	assert.Equal(t, 2500.0, *parsed.Price)
	assert.Equal(t, 2, *parsed.Bedrooms)
	assert.Equal(t, 1.5, *parsed.Bathrooms)
	assert.Equal(t, 850, *parsed.SquareFeet)
	assert.Equal(t, "Sunny two bedroom", *parsed.Description)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, parsed.Images)
	assert.Equal(t, []string{"Dishwasher", "A/C"}, parsed.Amenities)
	assert.Equal(t, "cats allowed", parsed.PetPolicyText)
	assert.Equal(t, "no fee", parsed.BrokerFeeText)
	assert.Equal(t, 1925, *parsed.YearBuilt)
}

func TestParse_RejectsWithoutAddressAndPrice(t *testing.T) {
	assert.Nil(t, Parse(rawWith(map[string]any{"description": "nice place"})))
	assert.Nil(t, Parse(rawWith(map[string]any{"address": "   ", "price": "not a number"})))
}

func TestParse_KeepsListingWithOnlyAddress(t *testing.T) {
	parsed := Parse(rawWith(map[string]any{"address": "456 Oak Ave, Brooklyn, NY 11201"}))
	require.NotNil(t, parsed)
	assert.Nil(t, parsed.Price)
}

func TestParse_KeepsListingWithOnlyPrice(t *testing.T) {
	parsed := Parse(rawWith(map[string]any{"price": 1800.0}))
	require.NotNil(t, parsed)
	assert.Nil(t, parsed.Address)
	assert.Equal(t, 1800.0, *parsed.Price)
}

func TestToFloat(t *testing.T) {
	assert.Nil(t, toFloat(nil))
	assert.Nil(t, toFloat(""))
	assert.Nil(t, toFloat("n/a"))
	assert.Nil(t, toFloat(true))
	assert.Equal(t, 2500.0, *toFloat("$2,500"))
	assert.Equal(t, 1.5, *toFloat(1.5))
	assert.Equal(t, 3.0, *toFloat(3))
}

func TestToStringSlice(t *testing.T) {
	assert.Nil(t, toStringSlice(nil))
	assert.Nil(t, toStringSlice("not an array"))
	assert.Equal(t, []string{"x"}, toStringSlice([]any{nil, "x", 5, ""}))
	assert.Equal(t, []string{"a", "b"}, toStringSlice([]string{"a", "", "b"}))
}
