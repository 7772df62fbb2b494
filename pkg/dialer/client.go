// Package dialer is a client for the CCAI outbound dialer platform. All
// endpoints authenticate with basic auth; contact uploads go through the
// bulk import endpoint as a JSON file.
package dialer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ContactPayload is the shape the bulk import endpoint requires. The field
// has to be phone_number, not phone.
type ContactPayload struct {
	Name             string  `json:"name"`
	PhoneNumber      string  `json:"phone_number"`
	ExternalUniqueID *string `json:"external_unique_id"`
}

// Contact is one contact already on a campaign.
type Contact struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Phone            string  `json:"phone"`
	ExternalUniqueID *string `json:"external_unique_id"`
	Status           string  `json:"status"`
}

// Campaign is a dialer campaign definition. The platform is inconsistent
// about field names, so decoding coerces campaign_id/id and
// campaign_name/name and keeps the raw payload.
type Campaign struct {
	ID          string
	Name        string
	Description string
	Status      string
	Raw         json.RawMessage
}

func (c *Campaign) UnmarshalJSON(data []byte) error {
	var aux struct {
		CampaignID   any    `json:"campaign_id"`
		ID           any    `json:"id"`
		CampaignName string `json:"campaign_name"`
		Name         string `json:"name"`
		Description  string `json:"description"`
		Status       string `json:"status"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&aux); err != nil {
		return err
	}

	c.ID = coerceID(aux.CampaignID)
	if c.ID == "" {
		c.ID = coerceID(aux.ID)
	}
	c.Name = aux.CampaignName
	if c.Name == "" {
		c.Name = aux.Name
	}
	c.Description = aux.Description
	c.Status = aux.Status
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func coerceID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

// ImportResult is the outcome of a bulk import submission.
type ImportResult struct {
	JobID string
	Raw   json.RawMessage
}

// Client talks to the dialer platform.
type Client struct {
	baseURL    string
	username   string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a dialer client.
func NewClient(baseURL, username, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "dialer: build request")
	}
	req.SetBasicAuth(c.username, c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "dialer: %s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "dialer: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, eris.Errorf("dialer: %s %s returned status %d: %s", method, path, resp.StatusCode, truncate(data))
	}
	return data, resp.Header, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// ListCampaigns fetches all campaign definitions.
func (c *Client) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	data, _, err := c.do(ctx, http.MethodGet, "/manager/api/v1/outbound_dialer/campaigns", nil, "")
	if err != nil {
		return nil, err
	}
	var campaigns []Campaign
	if err := json.Unmarshal(data, &campaigns); err != nil {
		return nil, eris.Wrap(err, "dialer: decode campaigns")
	}
	return campaigns, nil
}

// GetCampaign fetches one campaign definition.
func (c *Client) GetCampaign(ctx context.Context, campaignID string) (*Campaign, error) {
	data, _, err := c.do(ctx, http.MethodGet, "/manager/api/v1/outbound_dialer/campaigns/"+campaignID, nil, "")
	if err != nil {
		return nil, err
	}
	var campaign Campaign
	if err := json.Unmarshal(data, &campaign); err != nil {
		return nil, eris.Wrapf(err, "dialer: decode campaign %s", campaignID)
	}
	return &campaign, nil
}

// ListContacts fetches the contacts currently on a campaign.
func (c *Client) ListContacts(ctx context.Context, campaignID string) ([]Contact, error) {
	data, _, err := c.do(ctx, http.MethodGet, "/apps/api/v1/outbound_dialer/campaigns/"+campaignID+"/contacts", nil, "")
	if err != nil {
		return nil, err
	}
	var contacts []Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, eris.Wrap(err, "dialer: decode contacts")
	}
	return contacts, nil
}

// DeleteContact removes one contact from a campaign.
func (c *Client) DeleteContact(ctx context.Context, campaignID string, contactID int64) error {
	body, err := json.Marshal(map[string]int64{"contact_id": contactID})
	if err != nil {
		return eris.Wrap(err, "dialer: marshal delete body")
	}
	_, _, err = c.do(ctx, http.MethodDelete, "/apps/api/v1/outbound_dialer/campaigns/"+campaignID+"/contact",
		bytes.NewReader(body), "application/json")
	return err
}

var jobLocationRe = regexp.MustCompile(`/jobs/(\d+)$`)

// BulkImport uploads contacts as a JSON file via multipart form data and
// returns the import job id when the platform reports one.
func (c *Client) BulkImport(ctx context.Context, campaignID string, contacts []ContactPayload) (*ImportResult, error) {
	payload, err := json.Marshal(contacts)
	if err != nil {
		return nil, eris.Wrap(err, "dialer: marshal contacts")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "contacts.json")
	if err != nil {
		return nil, eris.Wrap(err, "dialer: create form file")
	}
	if _, err := part.Write(payload); err != nil {
		return nil, eris.Wrap(err, "dialer: write form file")
	}
	if err := w.Close(); err != nil {
		return nil, eris.Wrap(err, "dialer: close form")
	}

	data, headers, err := c.do(ctx, http.MethodPost,
		"/apps/api/v1/outbound_dialer/campaigns/"+campaignID+"/contacts/import",
		&buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}

	return &ImportResult{JobID: extractJobID(data, headers), Raw: data}, nil
}

func extractJobID(body []byte, headers http.Header) string {
	var aux struct {
		JobID any `json:"job_id"`
		ID    any `json:"id"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&aux); err == nil {
		if id := coerceID(aux.JobID); id != "" {
			return id
		}
		if id := coerceID(aux.ID); id != "" {
			return id
		}
	}
	if id := headers.Get("X-Job-Id"); id != "" {
		return id
	}
	if loc := headers.Get("Location"); loc != "" {
		if m := jobLocationRe.FindStringSubmatch(loc); m != nil {
			return m[1]
		}
	}
	return ""
}

// ImportJobStatus fetches the raw status document for an import job.
func (c *Client) ImportJobStatus(ctx context.Context, campaignID, jobID string) (json.RawMessage, error) {
	data, _, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/apps/api/v1/outbound_dialer/campaigns/%s/contacts/jobs/%s", campaignID, jobID), nil, "")
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
