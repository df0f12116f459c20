package ticket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoolConfig() PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.RetryAttempts = 3
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func jiraCred(domain string) Credential {
	return Credential{
		Tracker: TrackerJira,
		Domain:  domain,
		Email:   "dev@example.com",
		Secret:  "token",
	}
}

func azureCred(base string) Credential {
	return Credential{
		Tracker: TrackerAzure,
		Domain:  base,
		Secret:  "pat",
	}
}

func TestFactory_PoolSharedPerTrackerType(t *testing.T) {
	f := NewFactory(testPoolConfig())
	defer f.Close()

	p1, err := f.pool(TrackerJira)
	require.NoError(t, err)
	p2, err := f.pool(TrackerJira)
	require.NoError(t, err)
	p3, err := f.pool(TrackerAzure)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.NotSame(t, p1, p3)
}

func TestFactory_UnknownTracker(t *testing.T) {
	f := NewFactory(testPoolConfig())
	defer f.Close()

	_, err := f.GetClient(Credential{Tracker: "bugzilla"}, "")
	assert.Error(t, err)
}

func TestRetryTransport_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rt := newRetryTransport(http.DefaultTransport, 3, time.Millisecond)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rt := newRetryTransport(http.DefaultTransport, 2, time.Millisecond)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryTransport_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rt := newRetryTransport(http.DefaultTransport, 3, time.Millisecond)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestJiraClient_GetTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/PZ-1", r.URL.Path)
		user, secret, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "dev@example.com", user)
		assert.Equal(t, "token", secret)

		_, _ = w.Write([]byte(`{
			"id": "10001", "key": "PZ-1",
			"fields": {
				"summary": "Bug",
				"description": "Something broke",
				"status": {"name": "Open"},
				"issuetype": {"name": "Bug"}
			}
		}`))
	}))
	defer srv.Close()

	f := NewFactory(testPoolConfig())
	defer f.Close()
	client, err := f.GetClient(jiraCred(srv.URL), "PZ")
	require.NoError(t, err)

	ticket, err := client.GetTicket(context.Background(), "PZ-1")
	require.NoError(t, err)
	assert.Equal(t, "PZ-1", ticket.ID)
	assert.Equal(t, "Bug", ticket.Summary)
	assert.Equal(t, "Open", ticket.Status)
}

func TestJiraClient_GetTicketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFactory(testPoolConfig())
	defer f.Close()
	client, err := f.GetClient(jiraCred(srv.URL), "PZ")
	require.NoError(t, err)

	_, err = client.GetTicket(context.Background(), "PZ-999")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestJiraClient_DeleteTicket(t *testing.T) {
	var deleted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/rest/api/2/issue/PZ-1", r.URL.Path)
		deleted.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := NewFactory(testPoolConfig())
	defer f.Close()
	client, err := f.GetClient(jiraCred(srv.URL), "PZ")
	require.NoError(t, err)

	require.NoError(t, client.DeleteTicket(context.Background(), "PZ-1"))
	assert.True(t, deleted.Load())
}

func TestAzureClient_CreateSendsJSONPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/proj/_apis/wit/workitems/$Task")
		assert.Equal(t, "application/json-patch+json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var ops []map[string]any
		require.NoError(t, json.Unmarshal(body, &ops))

		paths := make(map[string]any)
		for _, op := range ops {
			paths[op["path"].(string)] = op["value"]
		}
		assert.Equal(t, "New bug", paths["/fields/System.Title"])

		_, _ = w.Write([]byte(`{"id": 42, "fields": {"System.Title": "New bug", "System.State": "New"}}`))
	}))
	defer srv.Close()

	f := NewFactory(testPoolConfig())
	defer f.Close()
	client, err := f.GetClient(azureCred(srv.URL), "proj")
	require.NoError(t, err)

	ticket, err := client.CreateTicket(context.Background(), map[string]string{"summary": "New bug"})
	require.NoError(t, err)
	assert.Equal(t, "42", ticket.ID)
	assert.Equal(t, "New bug", ticket.Summary)
}

func TestAzureClient_UserSearchNotImplemented(t *testing.T) {
	f := NewFactory(testPoolConfig())
	defer f.Close()
	client, err := f.GetClient(azureCred("https://dev.azure.com/org"), "proj")
	require.NoError(t, err)

	_, err = client.SearchUsers(context.Background(), "jan")
	assert.ErrorIs(t, err, ErrNotImplemented)
}
