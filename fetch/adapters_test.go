package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const rssTemplate = `<?xml version="1.0" encoding="ISO-8859-1"?>
<rss version="2.0">
<channel>
<title>Comic</title>
<link>https://example.com</link>
<item>
<title>%TITLE%</title>
<link>%LINK%</link>
%PUBDATE%
</item>
<item>
<title>Older Page 0099</title>
<link>https://example.com/comic/99</link>
</item>
</channel>
</rss>`

func rss(title, link, pubDate string) string {
	r := strings.NewReplacer("%TITLE%", title, "%LINK%", link, "%PUBDATE%", pubDate)
	return r.Replace(rssTemplate)
}

func TestFeedFetch(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantID    string
		wantTitle string
		wantURL   string
		wantDate  time.Time
	}{
		{
			name:      "id from title",
			body:      rss("Page 1234 – “Quotes”", "https://example.com/comic/abc", "<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>"),
			wantID:    "1234",
			wantTitle: "Page 1234 – “Quotes”",
			wantURL:   "https://example.com/comic/abc",
			wantDate:  time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC),
		},
		{
			name:      "dashed id from title",
			body:      rss("KSBD 6-84", "https://example.com/comic/ksbd", ""),
			wantID:    "6-84",
			wantTitle: "KSBD 6-84",
			wantURL:   "https://example.com/comic/ksbd",
		},
		{
			name:      "id from link",
			body:      rss("The one with the dragon", "https://example.com/comic/5678/", ""),
			wantID:    "5678",
			wantTitle: "The one with the dragon",
			wantURL:   "https://example.com/comic/5678/",
		},
		{
			name:      "whole link as id",
			body:      rss("Chapter start", "https://example.com/comic/chapter-start/", ""),
			wantID:    "https://example.com/comic/chapter-start/",
			wantTitle: "Chapter start",
			wantURL:   "https://example.com/comic/chapter-start/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, "application/rss+xml; charset=utf-8", tt.body)
			before := time.Now().Add(-time.Second)

			post, err := NewFeed(testClient(1), srv.URL).Fetch(context.Background())
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if post.UniqueID != tt.wantID {
				t.Errorf("UniqueID = %q, want %q", post.UniqueID, tt.wantID)
			}
			if post.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", post.Title, tt.wantTitle)
			}
			if post.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", post.URL, tt.wantURL)
			}
			if tt.wantDate.IsZero() {
				if post.PublishedAt.Before(before) {
					t.Errorf("PublishedAt = %v, want fallback to now", post.PublishedAt)
				}
			} else if !post.PublishedAt.Equal(tt.wantDate) {
				t.Errorf("PublishedAt = %v, want %v", post.PublishedAt, tt.wantDate)
			}
		})
	}
}

func TestFeedFetchIsStable(t *testing.T) {
	srv := serve(t, "application/rss+xml", rss("Page 0042", "https://example.com/42", ""))
	a := NewFeed(testClient(1), srv.URL)

	first, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	second, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if first.UniqueID != second.UniqueID {
		t.Errorf("UniqueID changed between fetches: %q then %q", first.UniqueID, second.UniqueID)
	}
	if first.UniqueID != "0042" {
		t.Errorf("UniqueID = %q, want %q (string, not number)", first.UniqueID, "0042")
	}
}

func TestFeedFetchErrors(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		srv := serve(t, "text/html", "this is not a feed")
		_, err := NewFeed(testClient(1), srv.URL).Fetch(context.Background())
		if !IsKind(err, KindParse) {
			t.Errorf("Fetch() error = %v, want parse error", err)
		}
	})
	t.Run("no items", func(t *testing.T) {
		srv := serve(t, "application/rss+xml", `<?xml version="1.0"?><rss version="2.0"><channel><title>x</title></channel></rss>`)
		_, err := NewFeed(testClient(1), srv.URL).Fetch(context.Background())
		if !IsKind(err, KindSemantic) {
			t.Errorf("Fetch() error = %v, want semantic error", err)
		}
	})
}

func TestForceUTF8(t *testing.T) {
	in := []byte("<?xml version='1.0' encoding='windows-1252'?><rss>\xff</rss>")
	got := string(forceUTF8(in))
	if !strings.Contains(got, "encoding='utf-8'") {
		t.Errorf("forceUTF8() kept declared encoding: %q", got)
	}
	if strings.Contains(got, "\xff") {
		t.Errorf("forceUTF8() kept invalid byte: %q", got)
	}
}

const twokindsPage = `<html><body>
<article class="comic">
  <img alt="Comic Page" title="Flora's plan" src="/images/1100.png">
  <div class="below-nav"><p class="permalink"><a href="/comic/1100/">Permalink</a></p></div>
</article>
</body></html>`

func TestTwokindsFetch(t *testing.T) {
	srv := serve(t, "text/html", twokindsPage)
	post, err := NewTwokinds(testClient(1), srv.URL+"/").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if post.UniqueID != "1100" {
		t.Errorf("UniqueID = %q, want %q", post.UniqueID, "1100")
	}
	if post.URL != srv.URL+"/comic/1100/" {
		t.Errorf("URL = %q, want %q", post.URL, srv.URL+"/comic/1100/")
	}
	if post.Title != "Flora's plan" {
		t.Errorf("Title = %q", post.Title)
	}
}

func TestTwokindsSemanticErrors(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{"no article", `<html><body><p>maintenance</p></body></html>`},
		{"no permalink", `<html><body><article class="comic"><div class="below-nav"></div></article></body></html>`},
		{"non numeric permalink", `<html><body><article class="comic"><div class="below-nav"><p class="permalink"><a href="/comic/latest/">x</a></p></div></article></body></html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, "text/html", tt.page)
			_, err := NewTwokinds(testClient(1), srv.URL).Fetch(context.Background())
			if !IsKind(err, KindSemantic) {
				t.Errorf("Fetch() error = %v, want semantic error", err)
			}
		})
	}
}

func TestAvasDemonFetch(t *testing.T) {
	var gotMethod, gotBody, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotReferer = r.Header.Get("Referer")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = io.WriteString(w, `<html><body><a href="pages.php?page=1987"><img src="latest.png"></a></body></html>`)
	}))
	defer srv.Close()

	post, err := NewAvasDemon(testClient(1), srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotBody != "page=0001" {
		t.Errorf("request = %s %q, want POST %q", gotMethod, gotBody, "page=0001")
	}
	if gotReferer != srv.URL+"/pages.php" {
		t.Errorf("Referer = %q", gotReferer)
	}
	if post.UniqueID != "1987" {
		t.Errorf("UniqueID = %q, want %q", post.UniqueID, "1987")
	}
	if post.URL != srv.URL+"/pages.php?page=1987" {
		t.Errorf("URL = %q", post.URL)
	}
	if post.Title != "Page 1987" {
		t.Errorf("Title = %q", post.Title)
	}
}

func TestAvasDemonMissingLink(t *testing.T) {
	srv := serve(t, "text/html", `<html><body><img src="first.png"></body></html>`)
	_, err := NewAvasDemon(testClient(1), srv.URL).Fetch(context.Background())
	if !IsKind(err, KindSemantic) {
		t.Errorf("Fetch() error = %v, want semantic error", err)
	}
}

func TestXKCDFetch(t *testing.T) {
	srv := serve(t, "application/json", `{"num": 2001, "title": "Foo", "alt": "bar", "year": "2018", "month": "5", "day": "7"}`)
	post, err := NewXKCD(testClient(1), srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if post.UniqueID != "2001" {
		t.Errorf("UniqueID = %q, want %q", post.UniqueID, "2001")
	}
	if post.URL != srv.URL+"/2001" {
		t.Errorf("URL = %q", post.URL)
	}
	if post.Title != "Foo (bar)" {
		t.Errorf("Title = %q", post.Title)
	}
	if want := time.Date(2018, 5, 7, 0, 0, 0, 0, time.UTC); !post.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", post.PublishedAt, want)
	}
}

func TestXKCDParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"num": `},
		{"missing num", `{"title": "Foo", "year": "2018", "month": "5", "day": "7"}`},
		{"missing title", `{"num": 1, "year": "2018", "month": "5", "day": "7"}`},
		{"bad date", `{"num": 1, "title": "Foo", "year": "soon", "month": "5", "day": "7"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, "application/json", tt.body)
			_, err := NewXKCD(testClient(1), srv.URL).Fetch(context.Background())
			if !IsKind(err, KindParse) {
				t.Errorf("Fetch() error = %v, want parse error", err)
			}
		})
	}
}

func TestStatusPageFetch(t *testing.T) {
	srv := serve(t, "application/json", `{"months":[{"name":"October","year":2026,"incidents":[
		{"code":"x1y2z3","name":"API latency","impact":"minor","timestamp":"2026-10-16T10:00:00Z"},
		{"code":"older","name":"Old","impact":"none"}]}]}`)

	post, err := NewStatusPage(testClient(1), srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if post.UniqueID != "x1y2z3" {
		t.Errorf("UniqueID = %q", post.UniqueID)
	}
	if post.URL != srv.URL+"/incidents/x1y2z3" {
		t.Errorf("URL = %q", post.URL)
	}
	if post.Title != "API latency [minor]" {
		t.Errorf("Title = %q", post.Title)
	}
}

func TestStatusPageOutcomes(t *testing.T) {
	t.Run("no months", func(t *testing.T) {
		srv := serve(t, "application/json", `{"months":[]}`)
		_, err := NewStatusPage(testClient(1), srv.URL).Fetch(context.Background())
		if !IsKind(err, KindSemantic) {
			t.Errorf("Fetch() error = %v, want semantic error", err)
		}
	})
	t.Run("quiet month", func(t *testing.T) {
		srv := serve(t, "application/json", `{"months":[{"name":"October","year":2026,"incidents":[]}]}`)
		_, err := NewStatusPage(testClient(1), srv.URL).Fetch(context.Background())
		if !errors.Is(err, ErrNoUpdate) {
			t.Errorf("Fetch() error = %v, want ErrNoUpdate", err)
		}
		var fe *Error
		if errors.As(err, &fe) {
			t.Errorf("quiet month reported as fetch error %v", fe)
		}
	})
	t.Run("malformed", func(t *testing.T) {
		srv := serve(t, "application/json", `[`)
		_, err := NewStatusPage(testClient(1), srv.URL).Fetch(context.Background())
		if !IsKind(err, KindParse) {
			t.Errorf("Fetch() error = %v, want parse error", err)
		}
	})
}
