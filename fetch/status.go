package fetch

import (
	"comicwatch/pkg/notifier"
	"context"
	"encoding/json"
	"strings"
	"time"
)

// StatusPage reads the newest incident from a Statuspage incident history.
type StatusPage struct {
	client  *Client
	baseURL string
}

// NewStatusPage creates an incident adapter for the status site at baseURL.
func NewStatusPage(client *Client, baseURL string) *StatusPage {
	return &StatusPage{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

type incidentHistory struct {
	Months []struct {
		Name      string     `json:"name"`
		Year      int        `json:"year"`
		Incidents []incident `json:"incidents"`
	} `json:"months"`
}

type incident struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Impact    string `json:"impact"`
	Timestamp string `json:"timestamp"`
}

// Fetch implements Adapter. A month without incidents yields ErrNoUpdate.
func (s *StatusPage) Fetch(ctx context.Context) (*notifier.Post, error) {
	endpoint := s.baseURL + "/history.json?page=1"
	body, err := s.client.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var h incidentHistory
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, parseError(endpoint, err)
	}
	if len(h.Months) == 0 {
		return nil, semanticError(endpoint, "incident history has no months")
	}
	month := h.Months[0]
	if len(month.Incidents) == 0 {
		return nil, ErrNoUpdate
	}

	inc := month.Incidents[0]
	if inc.Code == "" {
		return nil, semanticError(endpoint, "incident %q has no code", inc.Name)
	}

	published := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, inc.Timestamp); err == nil {
		published = ts
	}

	title := inc.Name
	if inc.Impact != "" && inc.Impact != "none" {
		title += " [" + inc.Impact + "]"
	}

	return &notifier.Post{
		UniqueID:    inc.Code,
		URL:         s.baseURL + "/incidents/" + inc.Code,
		Title:       title,
		PublishedAt: published,
	}, nil
}
