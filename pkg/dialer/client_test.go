package dialer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkAuth(t *testing.T, r *http.Request) {
	t.Helper()
	user, pass, ok := r.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "Campaign", user)
	assert.Equal(t, "key-123", pass)
}

func TestListCampaigns(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		assert.Equal(t, "/manager/api/v1/outbound_dialer/campaigns", r.URL.Path)
		w.Write([]byte(`[
			{"campaign_id": 12, "campaign_name": "Spring Renewals", "status": "active"},
			{"id": "c-13", "name": "Winter Winback"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "Campaign", "key-123")
	campaigns, err := c.ListCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, campaigns, 2)

	assert.Equal(t, "12", campaigns[0].ID)
	assert.Equal(t, "Spring Renewals", campaigns[0].Name)
	assert.Equal(t, "active", campaigns[0].Status)
	assert.NotEmpty(t, campaigns[0].Raw)

	assert.Equal(t, "c-13", campaigns[1].ID)
	assert.Equal(t, "Winter Winback", campaigns[1].Name)
}

func TestListContacts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		assert.Equal(t, "/apps/api/v1/outbound_dialer/campaigns/12/contacts", r.URL.Path)
		w.Write([]byte(`[{"id": 7, "name": "Jo", "phone": "+447911123456", "external_unique_id": "C001"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "Campaign", "key-123")
	contacts, err := c.ListContacts(context.Background(), "12")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, int64(7), contacts[0].ID)
	require.NotNil(t, contacts[0].ExternalUniqueID)
	assert.Equal(t, "C001", *contacts[0].ExternalUniqueID)
}

func TestDeleteContact(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/apps/api/v1/outbound_dialer/campaigns/12/contact", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"contact_id": 7}`, string(body))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "Campaign", "key-123")
	require.NoError(t, c.DeleteContact(context.Background(), "12", 7))
}

func TestBulkImport(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		assert.Equal(t, "/apps/api/v1/outbound_dialer/campaigns/12/contacts/import", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "contacts.json", header.Filename)

		var contacts []ContactPayload
		require.NoError(t, json.NewDecoder(f).Decode(&contacts))
		require.Len(t, contacts, 2)
		assert.Equal(t, "+447911123456", contacts[0].PhoneNumber)

		w.Write([]byte(`{"job_id": 991}`))
	}))
	defer srv.Close()

	ext := "C001"
	c := NewClient(srv.URL, "Campaign", "key-123")
	res, err := c.BulkImport(context.Background(), "12", []ContactPayload{
		{Name: "Jo", PhoneNumber: "+447911123456", ExternalUniqueID: &ext},
		{Name: "Sam", PhoneNumber: "+447911123457"},
	})
	require.NoError(t, err)
	assert.Equal(t, "991", res.JobID)
}

func TestBulkImportJobIDFromLocation(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "/apps/api/v1/outbound_dialer/campaigns/12/contacts/jobs/42")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "Campaign", "key-123")
	res, err := c.BulkImport(context.Background(), "12", nil)
	require.NoError(t, err)
	assert.Equal(t, "42", res.JobID)
}

func TestErrorStatusSurfaced(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "Campaign", "key-123")
	_, err := c.ListCampaigns(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestImportJobStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apps/api/v1/outbound_dialer/campaigns/12/contacts/jobs/991", r.URL.Path)
		w.Write([]byte(`{"status":"finished","processed":100}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "Campaign", "key-123")
	raw, err := c.ImportJobStatus(context.Background(), "12", "991")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"finished","processed":100}`, string(raw))
}
