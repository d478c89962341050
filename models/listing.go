package models

// ContactSentinel marks contact fields that sit behind an interactive
// "show number" step on the source site. They are never fetched.
const ContactSentinel = "MANUAL_INTERACTION_REQUIRED"

const DefaultCurrency = "LKR"

// ListingRecord is the persisted, normalized form of one ad. It is written
// once per scrape and never modified afterwards.
type ListingRecord struct {
	ListingID         string   `json:"listing_id"`
	SourceURL         string   `json:"source_url"`
	Title             string   `json:"title"`
	PropertyType      string   `json:"property_type"`
	Price             *float64 `json:"price"`
	Currency          string   `json:"currency"`
	Location          string   `json:"location"`
	Area              string   `json:"area"`
	NearestUniversity *string  `json:"nearest_university"` // needs geocoding, not on page
	Bedrooms          *string  `json:"bedrooms"`
	Bathrooms         *string  `json:"bathrooms"`
	AreaSqFt          *float64 `json:"area_sqft"`
	Amenities         []string `json:"amenities"`
	Description       string   `json:"description"`
	ContactName       string   `json:"contact_name"`
	ContactPhone      string   `json:"contact_phone"`
	ImageURLs         []string `json:"image_urls,omitempty"`
	ImageFolder       string   `json:"image_folder"`
	ScrapedDate       string   `json:"scraped_date"`
}

// ListingSummary is what a search results page tells us about an ad.
type ListingSummary struct {
	ID       string `json:"listing_id"`
	URL      string `json:"source_url"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	Location string `json:"location"`
	ImageURL string `json:"image_url"`
}
