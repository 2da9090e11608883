package extract

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

const extractUserAgent = "newsmith/1.0"

// mainContentSelectors are tried in order against the cleaned document.
var mainContentSelectors = []string{
	"article", "main", "[role='main']",
	".entry-content", ".post-content", ".post-body", ".article-body",
	".main-content", ".content", "#content",
}

var collapseNewlines = regexp.MustCompile(`\n{3,}`)

// ReadabilityExtractor is the free, local extractor: it fetches the page and
// pulls the main text out of the DOM. First in the chain.
type ReadabilityExtractor struct {
	client *http.Client
}

// NewReadabilityExtractor creates the DOM-based extractor.
func NewReadabilityExtractor() *ReadabilityExtractor {
	return &ReadabilityExtractor{client: &http.Client{}}
}

func (e *ReadabilityExtractor) Name() string { return "readability" }

// Extract fetches the URL and scrapes title, byline, dates and main text.
func (e *ReadabilityExtractor) Extract(ctx context.Context, url string) (*Content, error) {
	resp, err := getWithRetry(ctx, e.client, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	// Drop boilerplate before walking for text.
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .cookie-banner").Remove()

	content := &Content{
		Title:    extractTitle(doc),
		Author:   metaContent(doc, "meta[name='author']", "meta[property='article:author']"),
		SiteName: metaContent(doc, "meta[property='og:site_name']"),
		Excerpt:  metaContent(doc, "meta[property='og:description']", "meta[name='description']"),
	}

	if published := metaContent(doc, "meta[property='article:published_time']", "meta[name='date']", "meta[itemprop='datePublished']"); published != "" {
		if ts, err := dateparse.ParseAny(published); err == nil {
			utc := ts.UTC()
			content.Published = &utc
		}
	}

	content.Text = extractBody(doc)
	if content.Excerpt == "" {
		content.Excerpt = firstWords(content.Text, 40)
	}
	return content, nil
}

func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	if t := metaContent(doc, "meta[property='og:title']"); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// extractBody walks the likely main-content container, falling back to the
// whole body, and joins block elements with paragraph breaks.
func extractBody(doc *goquery.Document) string {
	var b strings.Builder

	collect := func(s *goquery.Selection) {
		s.Find("p, h2, h3, h4, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			text := strings.TrimSpace(item.Text())
			if text == "" {
				return
			}
			b.WriteString(text)
			b.WriteString("\n\n")
		})
	}

	for _, selector := range mainContentSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			collect(sel)
			if b.Len() > 0 {
				break
			}
		}
	}
	if b.Len() == 0 {
		collect(doc.Find("body"))
	}

	text := collapseNewlines.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(text)
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
