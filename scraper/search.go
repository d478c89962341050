package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ikman_scrooper/config"
	"ikman_scrooper/identity"
	"ikman_scrooper/models"
	"ikman_scrooper/rawtree"
)

// SearchParser turns a search results page into listing summaries.
type SearchParser struct {
	site      *config.SiteConfig
	extractor *Extractor
}

func NewSearchParser(site *config.SiteConfig, extractor *Extractor) *SearchParser {
	return &SearchParser{site: site, extractor: extractor}
}

// Parse reads the embedded result set when the page carries one and falls
// back to the configured CSS selectors. An empty slice means the page had no
// listings.
func (p *SearchParser) Parse(html string) ([]models.ListingSummary, error) {
	if summaries := p.fromEmbedded(html); len(summaries) > 0 {
		return summaries, nil
	}
	return p.fromSelectors(html)
}

func (p *SearchParser) fromEmbedded(html string) []models.ListingSummary {
	tree, err := p.extractor.Extract(html)
	if err != nil {
		return nil
	}

	var summaries []models.ListingSummary
	for _, path := range p.site.SearchAdPaths {
		for _, ad := range tree.Search(path).Items() {
			if !ad.IsMapping() {
				continue
			}
			s := models.ListingSummary{
				ID:       strings.TrimSpace(ad.Get("id").String()),
				Title:    strings.TrimSpace(ad.Get("title").String()),
				Price:    nameOrText(ad.Get("price"), "value"),
				Location: nameOrText(ad.Get("location"), "name"),
				ImageURL: p.resolve(ad.Get("imgUrl").String()),
			}
			if slug := strings.TrimSpace(ad.Get("slug").String()); slug != "" {
				s.URL = p.site.DetailURL(slug)
			} else {
				s.URL = p.resolve(ad.Get("url").String())
			}
			if s.URL == "" {
				continue
			}
			if s.ID == "" {
				s.ID = identity.ListingIDFromURL(s.URL)
			}
			summaries = append(summaries, s)
		}
		if len(summaries) > 0 {
			break
		}
	}
	return summaries
}

func (p *SearchParser) fromSelectors(html string) ([]models.ListingSummary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	sel := p.site.Selectors
	summaries := []models.ListingSummary{}
	doc.Find(sel.ListingItem).Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Find(sel.ListingLink).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		link := p.resolve(href)

		s := models.ListingSummary{
			ID:       identity.ListingIDFromURL(link),
			URL:      link,
			Title:    strings.TrimSpace(item.Find(sel.ListingTitle).First().Text()),
			Price:    cleanPrice(item.Find(sel.ListingPrice).First().Text()),
			Location: strings.TrimSpace(item.Find(sel.ListingLocation).First().Text()),
		}
		if src, ok := item.Find(sel.ListingImage).First().Attr("src"); ok {
			s.ImageURL = p.resolve(src)
		}
		summaries = append(summaries, s)
	})
	return summaries, nil
}

// resolve makes a possibly relative href absolute against the site base.
func (p *SearchParser) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base, err := url.Parse(p.site.BaseURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func cleanPrice(s string) string {
	s = strings.ReplaceAll(s, "Rs", "")
	s = strings.ReplaceAll(s, ",", "")
	return strings.TrimSpace(s)
}

func nameOrText(n rawtree.Node, key string) string {
	if n.IsMapping() {
		n = n.Get(key)
	}
	return strings.TrimSpace(n.String())
}
