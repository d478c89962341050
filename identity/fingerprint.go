package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"ikman_scrooper/models"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	trailingIDRegex = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// ListingIDFromURL takes the identifier from the last "-" separated segment
// of an ad URL, e.g. ".../rooms-for-rent-colombo-1022" -> "1022". Returns ""
// when the URL has no usable segment.
func ListingIDFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	i := strings.LastIndex(p, "-")
	if i < 0 {
		return ""
	}
	p = p[i+1:]
	if !trailingIDRegex.MatchString(p) {
		return ""
	}
	return p
}

// JoinLocation joins location levels with ", ", skipping empty and repeated
// parts (case-insensitive).
func JoinLocation(parts []string) string {
	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		p = multiSpaceRegex.ReplaceAllString(strings.TrimSpace(p), " ")
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return strings.Join(out, ", ")
}

// Fingerprint hashes the content of a record, ignoring the scrape timestamp,
// so re-scrapes of an unchanged ad hash identically.
func Fingerprint(rec *models.ListingRecord) string {
	c := *rec
	c.ScrapedDate = ""
	data, _ := json.Marshal(c)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}
