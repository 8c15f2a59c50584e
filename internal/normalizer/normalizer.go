package normalizer

import (
	"regexp"
	"strconv"
	"strings"

	"rentradar/pipeline/internal/models"
)

var (
	stateZipRe   = regexp.MustCompile(`^([A-Za-z]{2})\s+(\d{5}(?:-\d{4})?)$`)
	dollarRe     = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	percentRe    = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*%`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// amenityRule maps case-insensitive substrings onto one canonical amenity
// name. Rules are checked in order; the first hit wins for a given raw value.
type amenityRule struct {
	substrings []string
	canonical  string
}

var amenityRules = []amenityRule{
	{[]string{"a/c", "air conditioning", "central air", "air-conditioning"}, "Air Conditioning"},
	{[]string{"washer/dryer", "in-unit laundry", "in unit laundry", "washer"}, "In-Unit Laundry"},
	{[]string{"laundry"}, "Laundry Room"},
	{[]string{"dishwasher"}, "Dishwasher"},
	{[]string{"gym", "fitness"}, "Fitness Center"},
	{[]string{"pool", "swimming"}, "Pool"},
	{[]string{"garage", "parking"}, "Parking"},
	{[]string{"elevator"}, "Elevator"},
	{[]string{"doorman", "concierge"}, "Doorman"},
	{[]string{"balcony", "terrace", "patio"}, "Balcony"},
	{[]string{"roof"}, "Roof Deck"},
	{[]string{"hardwood"}, "Hardwood Floors"},
	{[]string{"stainless"}, "Stainless Steel Appliances"},
	{[]string{"storage"}, "Storage"},
	{[]string{"bike"}, "Bike Room"},
}

// Normalize maps a parsed listing onto the canonical schema.
func Normalize(p *models.ParsedListing) *models.NormalizedListing {
	n := &models.NormalizedListing{
		Source:    p.Source,
		SourceURL: p.SourceURL,
		SourceID:  p.SourceID,

		Bedrooms:        p.Bedrooms,
		Bathrooms:       p.Bathrooms,
		SquareFeet:      p.SquareFeet,
		Images:          p.Images,
		FloorPlanImages: p.FloorPlanImages,
		Amenities:       normalizeAmenities(p.Amenities),
		PetPolicy:       normalizePetPolicy(p.PetPolicyText),
		BrokerFee:       normalizeBrokerFee(p.BrokerFeeText),

		ScrapedAt: p.ScrapedAt,
	}

	if p.Address != nil {
		n.Address = splitAddress(*p.Address)
	}
	if p.Description != nil {
		n.Description = *p.Description
	}
	// Prices are assumed already monthly USD; no unit conversion happens
	// here.
	if p.Price != nil {
		n.Price = models.Price{Amount: *p.Price, Currency: "USD", Period: "monthly"}
	}

	n.Details = models.Details{
		YearBuilt:         p.YearBuilt,
		UnitCount:         p.UnitCount,
		SecurityDeposit:   p.SecurityDeposit,
		UtilitiesIncluded: p.UtilitiesIncluded,
	}
	if p.BuildingType != nil {
		n.Details.BuildingType = *p.BuildingType
	}
	if p.Parking != nil {
		n.Details.Parking = *p.Parking
	}
	if p.LeaseLength != nil {
		n.Details.LeaseLength = *p.LeaseLength
	}
	if p.MoveInDate != nil {
		n.Details.MoveInDate = *p.MoveInDate
	}
	if p.Laundry != nil {
		n.Details.Laundry = *p.Laundry
	}
	if p.Heating != nil {
		n.Details.Heating = *p.Heating
	}
	if p.Cooling != nil {
		n.Details.Cooling = *p.Cooling
	}
	if p.ContactName != nil || p.ContactPhone != nil || p.ContactEmail != nil {
		contact := &models.ContactInfo{}
		if p.ContactName != nil {
			contact.Name = *p.ContactName
		}
		if p.ContactPhone != nil {
			contact.Phone = *p.ContactPhone
		}
		if p.ContactEmail != nil {
			contact.Email = *p.ContactEmail
		}
		n.Details.Contact = contact
	}

	return n
}

// splitAddress applies the comma-split heuristic: first segment is the
// street, second the city, and a trailing "STATE ZIP" pattern in the last
// segment is split into state and zip. Anything not matching that pattern is
// treated as state-only. This is deliberately not a full postal parser;
// malformed splits are accepted degraded output, and changing the heuristic
// would change dedup matching behavior.
func splitAddress(full string) models.Address {
	full = strings.TrimSpace(whitespaceRe.ReplaceAllString(full, " "))
	addr := models.Address{FullAddress: full}

	segments := strings.Split(full, ",")
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
	}

	if len(segments) > 0 {
		addr.Street = segments[0]
	}
	if len(segments) > 1 {
		addr.City = segments[1]
	}
	if len(segments) > 2 {
		last := segments[len(segments)-1]
		if m := stateZipRe.FindStringSubmatch(last); m != nil {
			addr.State = strings.ToUpper(m[1])
			addr.Zip = m[2]
		} else {
			addr.State = last
		}
	}
	return addr
}

// normalizeAmenities collapses synonyms onto a shared vocabulary and removes
// duplicates, preserving first-seen order.
func normalizeAmenities(raw []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, amenity := range raw {
		mapped := mapAmenity(amenity)
		if mapped == "" || seen[mapped] {
			continue
		}
		seen[mapped] = true
		out = append(out, mapped)
	}
	return out
}

func mapAmenity(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return ""
	}
	lower := strings.ToLower(cleaned)
	for _, rule := range amenityRules {
		for _, sub := range rule.substrings {
			if strings.Contains(lower, sub) {
				return rule.canonical
			}
		}
	}
	return cleaned
}

// normalizePetPolicy is a lossy rule-based extraction. Pets default to not
// allowed; only explicit positive language flips the flag.
func normalizePetPolicy(text string) models.PetPolicy {
	policy := models.PetPolicy{}
	if text == "" {
		return policy
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, "allowed") || strings.Contains(lower, "friendly") || strings.Contains(lower, "ok") {
		policy.Allowed = true
	}
	policy.Restrictions = strings.TrimSpace(text)
	if amount := parseDollar(text); amount != nil {
		policy.Deposit = amount
	}
	return policy
}

// normalizeBrokerFee defaults to fee-required; only explicit negative
// language ("no fee", "no broker") flips it. Downstream filtering relies on
// this conservative bias.
func normalizeBrokerFee(text string) models.BrokerFee {
	fee := models.BrokerFee{Required: true}
	if text == "" {
		return fee
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, "no fee") || strings.Contains(lower, "no broker") {
		fee.Required = false
	}
	if m := percentRe.FindStringSubmatch(text); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			fee.Percentage = &pct
		}
	}
	if amount := parseDollar(text); amount != nil {
		fee.Amount = amount
	}
	return fee
}

func parseDollar(text string) *float64 {
	m := dollarRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	cleaned := strings.ReplaceAll(m[1], ",", "")
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &amount
}
