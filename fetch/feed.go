package fetch

import (
	"bytes"
	"comicwatch/pkg/notifier"
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// pageNumber matches page numbers such as "1234" or "12-13" in feed titles and links.
var pageNumber = regexp.MustCompile(`((?:-|\d){3,5})`)

var xmlEncodingDecl = regexp.MustCompile(`(?i)(<\?xml[^>]*?encoding\s*=\s*["'])[^"']*(["'])`)

// Feed reads the first item of an RSS or Atom feed.
type Feed struct {
	client *Client
	url    string
}

// NewFeed creates a feed adapter.
func NewFeed(client *Client, url string) *Feed {
	return &Feed{client: client, url: url}
}

// Fetch implements Adapter.
func (f *Feed) Fetch(ctx context.Context) (*notifier.Post, error) {
	body, err := f.client.get(ctx, f.url)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(forceUTF8(body)))
	if err != nil {
		return nil, parseError(f.url, err)
	}
	if len(feed.Items) == 0 || feed.Items[0] == nil {
		return nil, semanticError(f.url, "feed has no items")
	}

	item := feed.Items[0]
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)

	id := deriveID(title, link)
	if id == "" {
		return nil, semanticError(f.url, "no unique ID found for item %q", title)
	}

	published := time.Now().UTC()
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	return &notifier.Post{
		UniqueID:    id,
		URL:         link,
		Title:       title,
		PublishedAt: published,
	}, nil
}

// deriveID picks the page number from the title, then the link.
// When neither carries one the whole link is the ID.
func deriveID(title, link string) string {
	if m := pageNumber.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	if m := pageNumber.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return link
}

// forceUTF8 makes the document decode as UTF-8 regardless of its declared encoding.
func forceUTF8(b []byte) []byte {
	b = bytes.ToValidUTF8(b, []byte("\uFFFD"))
	return xmlEncodingDecl.ReplaceAll(b, []byte("${1}utf-8${2}"))
}
