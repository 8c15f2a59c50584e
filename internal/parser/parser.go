package parser

import (
	"strconv"
	"strings"

	"rentradar/pipeline/internal/models"
)

// Parse coerces one loosely-typed raw listing into a ParsedListing. Missing
// or malformed values become nil. A listing with neither an address nor a
// price is unusable and yields nil, meaning "drop, do not count as error".
func Parse(raw models.RawListing) *models.ParsedListing {
	p := raw.Payload

	parsed := &models.ParsedListing{
		Source:    raw.Source,
		SourceURL: raw.SourceURL,
		SourceID:  raw.SourceID,

		Address:     toString(p["address"]),
		Price:       toFloat(p["price"]),
		Bedrooms:    toInt(p["bedrooms"]),
		Bathrooms:   toFloat(p["bathrooms"]),
		SquareFeet:  toInt(firstPresent(p, "squareFeet", "sqft")),
		Description: toString(p["description"]),

		Images:          toStringSlice(p["images"]),
		FloorPlanImages: toStringSlice(p["floorPlanImages"]),
		Amenities:       toStringSlice(p["amenities"]),

		PetPolicyText: deref(toString(p["petPolicy"])),
		BrokerFeeText: deref(toString(p["brokerFee"])),

		BuildingType:      toString(p["buildingType"]),
		YearBuilt:         toInt(p["yearBuilt"]),
		UnitCount:         toInt(p["unitCount"]),
		Parking:           toString(p["parking"]),
		LeaseLength:       toString(p["leaseLength"]),
		SecurityDeposit:   toFloat(p["securityDeposit"]),
		MoveInDate:        toString(p["moveInDate"]),
		UtilitiesIncluded: toStringSlice(p["utilitiesIncluded"]),
		Laundry:           toString(p["laundry"]),
		Heating:           toString(p["heating"]),
		Cooling:           toString(p["cooling"]),
		ContactName:       toString(p["contactName"]),
		ContactPhone:      toString(p["contactPhone"]),
		ContactEmail:      toString(p["contactEmail"]),

		ScrapedAt: raw.ScrapedAt,
	}

	if parsed.Address == nil && parsed.Price == nil {
		return nil
	}
	return parsed
}

func firstPresent(p map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// toString returns a trimmed non-empty string or nil.
func toString(v any) *string {
	if v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// toFloat accepts numbers and numeric strings with $ , or whitespace noise.
func toFloat(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(t))
		if cleaned == "" {
			return nil
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func toInt(v any) *int {
	f := toFloat(v)
	if f == nil {
		return nil
	}
	i := int(*f)
	return &i
}

// toStringSlice filters an array down to its non-null, non-empty string
// elements.
func toStringSlice(v any) []string {
	if v == nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		if strs, ok := v.([]string); ok {
			items = make([]any, len(strs))
			for i, s := range strs {
				items[i] = s
			}
		} else {
			return nil
		}
	}

	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
