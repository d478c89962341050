package scraper

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ikman_scrooper/rawtree"
)

const excerptLen = 200

// Extractor pulls the page-state object a site serializes into an inline
// script ("window.initialData = {...}") and decodes it.
type Extractor struct {
	marker     string
	assignRe   *regexp.Regexp
	docAssign  *regexp.Regexp
	documentRe *regexp.Regexp
}

func NewExtractor(marker string) *Extractor {
	quoted := regexp.QuoteMeta(marker)
	return &Extractor{
		marker:     marker,
		assignRe:   regexp.MustCompile(quoted + `\s*=\s*`),
		docAssign:  regexp.MustCompile(`(?i)` + quoted + `\s*=\s*`),
		documentRe: regexp.MustCompile(`(?i)` + quoted + `\s*=\s*(\{[\s\S]*?\});?\s*(?:</script>|$)`),
	}
}

func (e *Extractor) Marker() string { return e.marker }

// Extract returns the decoded object. It depends only on html.
func (e *Extractor) Extract(html string) (rawtree.Node, error) {
	c, ok := e.fromScripts(html)
	if !ok {
		c, ok = e.fromDocument(html)
	}
	if !ok {
		return rawtree.Node{}, &ExtractionError{Reason: "marker " + e.marker + " not found", Excerpt: excerpt(html, excerptLen)}
	}
	return c.decode()
}

// candidate is the text after "marker =". naive is the end-of-object guess;
// full runs to the end of the enclosing script or document and is what the
// brace scan walks when the guess does not parse.
type candidate struct {
	naive string
	full  string
}

// fromScripts looks in the first inline script containing the marker and
// guesses that the object ends at the script's last closing brace.
func (e *Extractor) fromScripts(html string) (candidate, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return candidate{}, false
	}

	var c candidate
	var ok bool
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, e.marker) {
			return true
		}
		rest, has := afterAssignment(e.assignRe, text)
		if !has {
			return true
		}
		c = candidate{naive: rest, full: rest}
		if end := strings.LastIndexByte(rest, '}'); end >= 0 {
			c.naive = rest[:end+1]
		}
		ok = true
		return false
	})
	return c, ok
}

// fromDocument handles pages where the marker is outside a script node the
// parser recognizes. Matching here ignores case.
func (e *Extractor) fromDocument(html string) (candidate, bool) {
	rest, ok := afterAssignment(e.docAssign, html)
	if !ok {
		return candidate{}, false
	}
	c := candidate{naive: rest, full: rest}
	if m := e.documentRe.FindStringSubmatch(html); m != nil {
		c.naive = m[1]
	}
	return c, true
}

// afterAssignment returns text from the first "{" after "marker =".
func afterAssignment(re *regexp.Regexp, text string) (string, bool) {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	rest := text[loc[1]:]
	if !strings.HasPrefix(rest, "{") {
		return "", false
	}
	return rest, true
}

func (c candidate) decode() (rawtree.Node, error) {
	tree, err := rawtree.Decode([]byte(c.naive))
	if err == nil {
		if !tree.IsMapping() {
			return rawtree.Node{}, &ExtractionError{Reason: "embedded data is not an object", Excerpt: excerpt(c.naive, excerptLen)}
		}
		return tree, nil
	}

	// The naive cut either stopped inside the object or swallowed trailing
	// statements. Rescan for the brace that really closes it.
	span, ok := BalancedObject(c.full)
	if !ok {
		return rawtree.Node{}, &ExtractionError{Reason: "unterminated object", Excerpt: excerpt(c.full, excerptLen), Err: err}
	}
	tree, err2 := rawtree.Decode([]byte(span))
	if err2 != nil {
		return rawtree.Node{}, &ExtractionError{Reason: "invalid JSON", Excerpt: excerpt(span, excerptLen), Err: errors.Join(err, err2)}
	}
	return tree, nil
}

// BalancedObject returns the prefix of s, starting at its first "{", that
// ends where brace depth returns to zero. Braces inside string literals are
// ignored; a backslash escapes the next character.
func BalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ScriptPreview is a short view of an inline script for troubleshooting.
type ScriptPreview struct {
	Index     int
	HasMarker bool
	Preview   string
}

// ScriptPreviews lists every inline script with its first limit bytes.
func (e *Extractor) ScriptPreviews(html string, limit int) ([]ScriptPreview, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var previews []ScriptPreview
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		text := s.Text()
		previews = append(previews, ScriptPreview{
			Index:     i,
			HasMarker: strings.Contains(text, e.marker),
			Preview:   strings.ReplaceAll(excerpt(text, limit), "\n", " "),
		})
	})
	return previews, nil
}
