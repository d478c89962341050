package scraper

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ikman_scrooper/identity"
	"ikman_scrooper/models"
	"ikman_scrooper/rawtree"
)

var (
	sqftRegex   = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(?:sq\.?\s*ft|sqft|square\s*f(?:ee|oo)t|ft²|ft2)`)
	numberRegex = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

var (
	locationLevels = []string{"l3_location", "l2_location", "l1_location", "location"}
	areaKeys       = []string{"size", "house_size", "land_size"}
)

// Normalizer flattens the ad object of an extracted page tree into a
// ListingRecord.
type Normalizer struct {
	AdPaths         []string
	DefaultCurrency string
	ImageRoot       string
	Now             func() time.Time
}

func NewNormalizer(adPaths []string, defaultCurrency string) *Normalizer {
	if defaultCurrency == "" {
		defaultCurrency = models.DefaultCurrency
	}
	return &Normalizer{
		AdPaths:         adPaths,
		DefaultCurrency: defaultCurrency,
		ImageRoot:       "images",
		Now:             time.Now,
	}
}

func (n *Normalizer) Normalize(tree rawtree.Node, sourceURL string) (*models.ListingRecord, error) {
	ad, id, err := n.findAd(tree)
	if err != nil {
		return nil, err
	}

	props := ad.Get("properties")
	price, currency := n.price(ad.Get("price"))
	area := firstText(props, areaKeys)

	rec := &models.ListingRecord{
		ListingID:    id,
		SourceURL:    sourceURL,
		Title:        strings.TrimSpace(ad.Get("title").String()),
		PropertyType: textOr(ad.Path("category", "name"), "Unknown"),
		Price:        price,
		Currency:     currency,
		Location:     location(ad),
		Area:         area,
		Bedrooms:     optionalText(props.Property("bedrooms")),
		Bathrooms:    optionalText(props.Property("bathrooms")),
		AreaSqFt:     ParseAreaSqFt(area),
		Amenities:    Amenities(ad.Get("amenities")),
		Description:  strings.TrimSpace(ad.Get("description").String()),
		ContactName:  models.ContactSentinel,
		ContactPhone: models.ContactSentinel,
		ImageURLs:    imageURLs(ad.Get("images")),
		ImageFolder:  path.Join(n.ImageRoot, id) + "/",
		ScrapedDate:  n.Now().UTC().Format("2006-01-02 15:04:05") + " UTC",
	}
	return rec, nil
}

// findAd walks the configured paths and returns the first object carrying
// a non-empty id.
func (n *Normalizer) findAd(tree rawtree.Node) (rawtree.Node, string, error) {
	for _, p := range n.AdPaths {
		ad := tree.Search(p)
		if !ad.IsMapping() {
			continue
		}
		if id := strings.TrimSpace(ad.Get("id").String()); id != "" {
			return ad, id, nil
		}
	}
	return rawtree.Node{}, "", &SchemaError{
		Reason:   "no ad object with an id at " + strings.Join(n.AdPaths, ", "),
		TopLevel: tree.Keys(),
	}
}

func (n *Normalizer) price(p rawtree.Node) (*float64, string) {
	currency := n.DefaultCurrency
	value := p
	if p.IsMapping() {
		value = p.Get("value")
		if c := strings.TrimSpace(p.Get("currency").String()); c != "" {
			currency = c
		}
	}
	if v, ok := value.Number(); ok {
		return &v, currency
	}
	return nil, currency
}

func location(ad rawtree.Node) string {
	var parts []string
	for _, level := range locationLevels {
		loc := ad.Get(level)
		if loc.IsMapping() {
			loc = loc.Get("name")
		}
		if s, ok := loc.Raw().(string); ok {
			parts = append(parts, s)
		}
	}
	if joined := identity.JoinLocation(parts); joined != "" {
		return joined
	}
	return "Unknown"
}

// ParseAreaSqFt reads square feet out of a free-text area. A number next
// to a square-feet unit wins; otherwise the first number is used only when
// the text mentions "sq" or "ft". Anything else is nil.
func ParseAreaSqFt(area string) *float64 {
	if area == "" {
		return nil
	}
	if m := sqftRegex.FindStringSubmatch(area); m != nil {
		return parseNumber(m[1])
	}
	lower := strings.ToLower(area)
	if strings.Contains(lower, "sq") || strings.Contains(lower, "ft") {
		if m := numberRegex.FindString(area); m != "" {
			return parseNumber(m)
		}
	}
	return nil
}

func parseNumber(s string) *float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &f
}

// Amenities accepts a sequence of named entities or an object wrapping one
// under "data", and returns the names in source order.
func Amenities(raw rawtree.Node) []string {
	if raw.IsMapping() {
		raw = raw.Get("data")
	}
	names := []string{}
	for _, item := range raw.Items() {
		if name := strings.TrimSpace(item.Get("name").String()); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func imageURLs(raw rawtree.Node) []string {
	if raw.IsMapping() {
		raw = raw.Get("data")
	}
	var urls []string
	for _, item := range raw.Items() {
		var u string
		if item.IsMapping() {
			u = textOr(item.Get("url"), item.Get("src").String())
		} else {
			u = item.String()
		}
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func optionalText(n rawtree.Node) *string {
	s, ok := n.Text()
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstText(props rawtree.Node, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(props.Property(k).String()); s != "" {
			return s
		}
	}
	return ""
}

func textOr(n rawtree.Node, fallback string) string {
	if s := strings.TrimSpace(n.String()); s != "" {
		return s
	}
	return fallback
}
