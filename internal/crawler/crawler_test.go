package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title> Acme Widgets — Home </title>
<meta name="description" content="Quality widgets since 1984">
<script type="application/ld+json">{"@type": "Organization"}</script>
<style>body { color: red; }</style>
</head>
<body>
<h1>Acme Widgets</h1>
<h2>Products</h2>
<h2>About</h2>
<p>We make the finest widgets in the tri-state area.</p>
<a href="/products">Products</a>
<a href="/about">About</a>
<img src="a.png" alt="A widget">
<img src="b.png" alt="">
<img src="c.png">
<script>console.log("ignored")</script>
</body>
</html>`

func TestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	snap, err := c.Snapshot(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.Title != "Acme Widgets — Home" {
		t.Errorf("Title = %q", snap.Title)
	}
	if snap.MetaDescription != "Quality widgets since 1984" {
		t.Errorf("MetaDescription = %q", snap.MetaDescription)
	}
	if snap.H1Count != 1 || snap.H2Count != 2 {
		t.Errorf("headings = %d h1, %d h2", snap.H1Count, snap.H2Count)
	}
	if snap.LinkCount != 2 {
		t.Errorf("LinkCount = %d", snap.LinkCount)
	}
	if snap.ImageCount != 3 || snap.ImagesWithAlt != 1 {
		t.Errorf("images = %d total, %d with alt", snap.ImageCount, snap.ImagesWithAlt)
	}
	if !snap.HasJSONLD {
		t.Error("HasJSONLD = false")
	}
	if snap.WordCount == 0 {
		t.Error("WordCount = 0")
	}

	sum := snap.Summary()
	if !strings.Contains(sum, "Acme Widgets") || !strings.Contains(sum, "JSON-LD") {
		t.Errorf("Summary missing expected content:\n%s", sum)
	}
}

func TestSnapshotErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	if _, err := c.Snapshot(context.Background(), srv.URL); err == nil {
		t.Fatal("Snapshot succeeded on 503")
	}
}
