// Package crawler takes a fetch-based snapshot of a page: a plain GET
// plus lightweight HTML extraction, no rendering. The snapshot is
// folded into analysis prompts when the crawler is enabled; failures
// degrade to analysis without a snapshot.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const maxBodySize = 2 << 20 // 2MB

// Snapshot summarizes what a plain fetch of the page revealed.
type Snapshot struct {
	Title           string
	MetaDescription string
	H1Count         int
	H2Count         int
	LinkCount       int
	ImageCount      int
	ImagesWithAlt   int
	HasJSONLD       bool
	WordCount       int
}

// Summary renders the snapshot as a compact block for inclusion in an
// analysis prompt.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fetched page snapshot:\n")
	fmt.Fprintf(&b, "- title: %q\n", s.Title)
	fmt.Fprintf(&b, "- meta description: %q\n", s.MetaDescription)
	fmt.Fprintf(&b, "- headings: %d h1, %d h2\n", s.H1Count, s.H2Count)
	fmt.Fprintf(&b, "- links: %d, images: %d (%d with alt text)\n", s.LinkCount, s.ImageCount, s.ImagesWithAlt)
	fmt.Fprintf(&b, "- JSON-LD structured data present: %v\n", s.HasJSONLD)
	fmt.Fprintf(&b, "- approximate word count: %d\n", s.WordCount)
	return b.String()
}

// Crawler fetches page snapshots over plain HTTP.
type Crawler struct {
	client *http.Client
}

// New creates a Crawler with the given per-fetch timeout.
func New(timeout time.Duration) *Crawler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Crawler{client: &http.Client{Timeout: timeout}}
}

// Snapshot fetches the URL and extracts page signals.
func (c *Crawler) Snapshot(ctx context.Context, url string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "siteaudit-crawler/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	snap := &Snapshot{
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		H1Count:    doc.Find("h1").Length(),
		H2Count:    doc.Find("h2").Length(),
		LinkCount:  doc.Find("a[href]").Length(),
		ImageCount: doc.Find("img").Length(),
		HasJSONLD:  doc.Find(`script[type="application/ld+json"]`).Length() > 0,
	}

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		snap.MetaDescription = strings.TrimSpace(desc)
	}

	doc.Find("img[alt]").Each(func(_ int, sel *goquery.Selection) {
		if alt, _ := sel.Attr("alt"); strings.TrimSpace(alt) != "" {
			snap.ImagesWithAlt++
		}
	})

	body := doc.Find("body")
	body.Find("script, style, noscript").Remove()
	snap.WordCount = len(strings.Fields(body.Text()))

	return snap, nil
}
