package fetch

import (
	"comicwatch/pkg/notifier"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// XKCD reads the current comic from the xkcd JSON endpoint.
type XKCD struct {
	client  *Client
	baseURL string
}

// NewXKCD creates an xkcd adapter rooted at baseURL.
func NewXKCD(client *Client, baseURL string) *XKCD {
	return &XKCD{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

type xkcdComic struct {
	Num   *int   `json:"num"`
	Title string `json:"title"`
	Alt   string `json:"alt"`
	Year  string `json:"year"`
	Month string `json:"month"`
	Day   string `json:"day"`
}

// Fetch implements Adapter.
func (x *XKCD) Fetch(ctx context.Context) (*notifier.Post, error) {
	endpoint := x.baseURL + "/info.0.json"
	body, err := x.client.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var c xkcdComic
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, parseError(endpoint, err)
	}
	if c.Num == nil {
		return nil, parseError(endpoint, errors.New("missing field num"))
	}
	if c.Title == "" {
		return nil, parseError(endpoint, errors.New("missing field title"))
	}

	published, err := xkcdDate(c.Year, c.Month, c.Day)
	if err != nil {
		return nil, parseError(endpoint, err)
	}

	num := strconv.Itoa(*c.Num)
	return &notifier.Post{
		UniqueID:    num,
		URL:         x.baseURL + "/" + num,
		Title:       fmt.Sprintf("%s (%s)", c.Title, c.Alt),
		PublishedAt: published,
	}, nil
}

func xkcdDate(year, month, day string) (time.Time, error) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad year %q: %w", year, err)
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad month %q: %w", month, err)
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad day %q: %w", day, err)
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), nil
}
