// Package news fetches headline items from the NHK RSS feeds. A failed
// or unknown topic is skipped, never fatal: the briefing pipeline can
// always proceed with whatever items were gathered.
package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Item is one news entry handed to the script generator.
type Item struct {
	Title       string
	Description string
	Link        string
	Topic       string
}

// topicFeeds maps API topic names to NHK category feeds.
var topicFeeds = map[string]string{
	"headline":      "https://www.nhk.or.jp/rss/news/cat0.xml",
	"international": "https://www.nhk.or.jp/rss/news/cat6.xml",
	"business":      "https://www.nhk.or.jp/rss/news/cat5.xml",
	"technology":    "https://www.nhk.or.jp/rss/news/cat3.xml",
	"sports":        "https://www.nhk.or.jp/rss/news/cat7.xml",
	"entertainment": "https://www.nhk.or.jp/rss/news/cat2.xml",
}

const maxItemsPerFeed = 15

// Fetcher downloads and parses topic feeds.
type Fetcher struct {
	client *http.Client
	log    *slog.Logger
}

// NewFetcher creates a fetcher with a bounded request timeout.
func NewFetcher(log *slog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

// FetchTopics gathers items for the requested topics in order. Unknown
// topics and failed feeds are logged and skipped. An empty topic list
// defaults to the headline feed.
func (f *Fetcher) FetchTopics(ctx context.Context, topics []string) []Item {
	if len(topics) == 0 {
		topics = []string{"headline"}
	}
	var items []Item
	for _, topic := range topics {
		url, ok := topicFeeds[topic]
		if !ok {
			f.log.WarnContext(ctx, "unknown news topic", "topic", topic)
			continue
		}
		fetched, err := f.fetchFeed(ctx, url)
		if err != nil {
			f.log.WarnContext(ctx, "news feed fetch failed", "topic", topic, "error", err)
			continue
		}
		for i := range fetched {
			fetched[i].Topic = topic
		}
		items = append(items, fetched...)
	}
	return items
}

type rssDoc struct {
	Channel struct {
		Items []rssEntry `xml:"item"`
	} `xml:"channel"`
}

type rssEntry struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
}

func (f *Fetcher) fetchFeed(ctx context.Context, url string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return parseFeed(body)
}

// parseFeed extracts up to maxItemsPerFeed entries. Truncated
// descriptions (the feed marks them with an ellipsis) are dropped
// rather than read aloud half-finished.
func parseFeed(body []byte) ([]Item, error) {
	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}
	var items []Item
	for _, entry := range doc.Channel.Items {
		if len(items) >= maxItemsPerFeed {
			break
		}
		title := cleanText(entry.Title)
		if title == "" {
			continue
		}
		desc := cleanText(entry.Description)
		if strings.ContainsAny(desc, "…⋯") || strings.Contains(desc, "...") {
			desc = ""
		}
		items = append(items, Item{
			Title:       title,
			Description: desc,
			Link:        strings.TrimSpace(entry.Link),
		})
	}
	return items, nil
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
