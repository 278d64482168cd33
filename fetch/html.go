package fetch

import (
	"bytes"
	"comicwatch/pkg/notifier"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Twokinds scrapes the permalink of the newest page off the Twokinds front page.
type Twokinds struct {
	client  *Client
	baseURL string
}

// NewTwokinds creates a Twokinds adapter rooted at baseURL.
func NewTwokinds(client *Client, baseURL string) *Twokinds {
	return &Twokinds{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Fetch implements Adapter.
func (t *Twokinds) Fetch(ctx context.Context) (*notifier.Post, error) {
	body, err := t.client.get(ctx, t.baseURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, parseError(t.baseURL, err)
	}

	article := doc.Find("article.comic").First()
	if article.Length() == 0 {
		return nil, semanticError(t.baseURL, "comic article not found")
	}

	href, ok := article.Find("div.below-nav p.permalink a").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, semanticError(t.baseURL, "permalink not found")
	}
	title, _ := article.Find(`img[alt="Comic Page"]`).First().Attr("title")
	title = strings.TrimSpace(title)

	permalink, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, semanticError(t.baseURL, "invalid permalink %q: %v", href, err)
	}

	// Permalinks look like /comic/1100/.
	segments := strings.Split(strings.Trim(permalink.Path, "/"), "/")
	page, err := strconv.Atoi(segments[len(segments)-1])
	if err != nil {
		return nil, semanticError(t.baseURL, "no unique ID found for page title %q", title)
	}
	if title == "" {
		title = fmt.Sprintf("Page %d", page)
	}

	return &notifier.Post{
		UniqueID:    strconv.Itoa(page),
		URL:         resolve(t.baseURL, permalink),
		Title:       title,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// AvasDemon reads the "latest" navigation link from the Ava's Demon page viewer.
// The site serves a stripped page unless the request looks like its own form post.
type AvasDemon struct {
	client  *Client
	baseURL string
}

// NewAvasDemon creates an Ava's Demon adapter rooted at baseURL.
func NewAvasDemon(client *Client, baseURL string) *AvasDemon {
	return &AvasDemon{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Fetch implements Adapter.
func (a *AvasDemon) Fetch(ctx context.Context) (*notifier.Post, error) {
	pagesURL := a.baseURL + "/pages.php"
	header := http.Header{}
	header.Set("Origin", a.baseURL)
	header.Set("Referer", pagesURL)
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := a.client.do(ctx, &request{
		method: http.MethodPost,
		url:    pagesURL,
		header: header,
		body:   "page=0001",
	})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, parseError(pagesURL, err)
	}

	latest := doc.Find(`img[src="latest.png"]`).First()
	if latest.Length() == 0 {
		return nil, semanticError(pagesURL, "latest page link not found")
	}
	href, ok := latest.Parent().Attr("href")
	if !ok {
		return nil, semanticError(pagesURL, "latest page link has no href")
	}

	link, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, semanticError(pagesURL, "invalid latest link %q: %v", href, err)
	}
	page := link.Query().Get("page")
	if page == "" {
		return nil, semanticError(pagesURL, "latest link %q has no page parameter", href)
	}

	return &notifier.Post{
		UniqueID:    page,
		URL:         resolve(a.baseURL+"/", link),
		Title:       "Page " + page,
		PublishedAt: time.Now().UTC(),
	}, nil
}

func resolve(base string, ref *url.URL) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}
