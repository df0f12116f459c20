package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketpilot/pkg/agent"
	"ticketpilot/pkg/graph"
	"ticketpilot/pkg/proto"
	"ticketpilot/pkg/store"
	"ticketpilot/pkg/ticket"
)

type fakeEngine struct {
	submitEvents []graph.Event
	resumeErr    error
	submitErr    error
	deleted      []string
	lastSubmit   agent.SubmitRequest
}

func eventChan(events []graph.Event) <-chan graph.Event {
	ch := make(chan graph.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func (f *fakeEngine) Submit(_ context.Context, req agent.SubmitRequest) (string, <-chan graph.Event, error) {
	f.lastSubmit = req
	if f.submitErr != nil {
		return "", nil, f.submitErr
	}
	id := req.ThreadID
	if id == "" {
		id = "thread-1"
	}
	return id, eventChan(f.submitEvents), nil
}

func (f *fakeEngine) Resume(_ context.Context, _, threadID string, _ proto.ResumeDecision) (<-chan graph.Event, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return eventChan([]graph.Event{{Kind: graph.EventDone, Step: "apply"}}), nil
}

func (f *fakeEngine) DeleteThread(_ context.Context, userID, threadID string) error {
	if userID != "alice" {
		return store.ErrNotFound
	}
	f.deleted = append(f.deleted, threadID)
	return nil
}

func (f *fakeEngine) ListThreads(_ context.Context, userID string) ([]proto.ThreadSummary, error) {
	if userID != "alice" {
		return nil, nil
	}
	return []proto.ThreadSummary{{ID: "thread-1", UserID: "alice", Title: "hello"}}, nil
}

type fakeCreds struct {
	stored  []ticket.Credential
	deleted []ticket.TrackerType
}

func (f *fakeCreds) Put(_ context.Context, cred ticket.Credential) (string, error) {
	f.stored = append(f.stored, cred)
	return "cred-1", nil
}

func (f *fakeCreds) List(_ context.Context, userID string) ([]ticket.Credential, error) {
	return []ticket.Credential{{ID: "cred-1", UserID: userID, Tracker: ticket.TrackerJira, Domain: "acme.atlassian.net"}}, nil
}

func (f *fakeCreds) Delete(_ context.Context, _ string, tracker ticket.TrackerType) error {
	f.deleted = append(f.deleted, tracker)
	return nil
}

type fakeKnowledge struct{ added []proto.Document }

func (f *fakeKnowledge) Add(_ context.Context, _ string, doc proto.Document) (string, error) {
	f.added = append(f.added, doc)
	return "doc-1", nil
}

func (f *fakeKnowledge) Delete(context.Context, string) error { return nil }

func newTestServer(eng *fakeEngine) (*Server, *fakeCreds, *fakeKnowledge) {
	creds := &fakeCreds{}
	kn := &fakeKnowledge{}
	return NewServer(eng, creds, kn, nil), creds, kn
}

func doJSON(t *testing.T, s *Server, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestStreamEmitsServerSentEvents(t *testing.T) {
	eng := &fakeEngine{submitEvents: []graph.Event{
		{Kind: graph.EventToken, Step: "reason", Content: "Hello."},
		{Kind: graph.EventDone, Step: "respond"},
	}}
	s, _, _ := newTestServer(eng)

	rec := doJSON(t, s, http.MethodPost, "/v1/agent/stream", "alice", `{"input":"hi","project_id":"PZ"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `event: thread`)
	assert.Contains(t, body, `"thread_id":"thread-1"`)
	assert.Contains(t, body, "event: token")
	assert.Contains(t, body, `"content":"Hello."`)
	assert.Contains(t, body, "event: done")
	assert.Equal(t, "alice", eng.lastSubmit.UserID)
	assert.Equal(t, "PZ", eng.lastSubmit.ProjectID)
}

func TestStreamRequiresUserAndInput(t *testing.T) {
	s, _, _ := newTestServer(&fakeEngine{})

	rec := doJSON(t, s, http.MethodPost, "/v1/agent/stream", "", `{"input":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/agent/stream", "alice", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamUnknownThreadIs404(t *testing.T) {
	s, _, _ := newTestServer(&fakeEngine{submitErr: store.ErrNotFound})
	rec := doJSON(t, s, http.MethodPost, "/v1/agent/stream", "alice", `{"input":"hi","thread_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeStatusMapping(t *testing.T) {
	body := `{"thread_id":"thread-1","decision":{"action":"continue"}}`

	s, _, _ := newTestServer(&fakeEngine{})
	rec := doJSON(t, s, http.MethodPost, "/v1/agent/resume", "alice", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: done")

	s, _, _ = newTestServer(&fakeEngine{resumeErr: store.ErrNotFound})
	rec = doJSON(t, s, http.MethodPost, "/v1/agent/resume", "alice", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s, _, _ = newTestServer(&fakeEngine{resumeErr: agent.ErrNotSuspended})
	rec = doJSON(t, s, http.MethodPost, "/v1/agent/resume", "alice", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	s, _, _ := newTestServer(&fakeEngine{submitErr: assertableError("pq: secret dsn exploded")})
	rec := doJSON(t, s, http.MethodPost, "/v1/agent/stream", "alice", `{"input":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "dsn")
}

type assertableError string

func (e assertableError) Error() string { return string(e) }

func TestListAndDeleteThreads(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestServer(eng)

	rec := doJSON(t, s, http.MethodGet, "/v1/agent/threads", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Threads []proto.ThreadSummary `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Threads, 1)
	assert.Equal(t, "thread-1", listed.Threads[0].ID)

	rec = doJSON(t, s, http.MethodDelete, "/v1/agent/threads/thread-1", "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"thread-1"}, eng.deleted)

	// Another user deleting the same thread reads as not found.
	rec = doJSON(t, s, http.MethodDelete, "/v1/agent/threads/thread-1", "mallory", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCredentialEndpoints(t *testing.T) {
	s, creds, _ := newTestServer(&fakeEngine{})

	rec := doJSON(t, s, http.MethodPost, "/v1/credentials", "alice",
		`{"tracker":"jira","domain":"acme.atlassian.net","email":"a@acme.io","secret":"tok"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, creds.stored, 1)
	assert.Equal(t, "alice", creds.stored[0].UserID)

	rec = doJSON(t, s, http.MethodPost, "/v1/credentials", "alice", `{"tracker":"github","domain":"x","secret":"y"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/credentials", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret", "listing must not expose secrets")

	rec = doJSON(t, s, http.MethodDelete, "/v1/credentials/jira", "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []ticket.TrackerType{ticket.TrackerJira}, creds.deleted)
}

func TestKnowledgeEndpoint(t *testing.T) {
	s, _, kn := newTestServer(&fakeEngine{})

	rec := doJSON(t, s, http.MethodPost, "/v1/knowledge", "alice",
		`{"project_id":"PZ","source":"runbook.md","content":"Deployments happen on Tuesdays."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, kn.added, 1)
	assert.Equal(t, "runbook.md", kn.added[0].Source)

	rec = doJSON(t, s, http.MethodPost, "/v1/knowledge", "alice", `{"project_id":"PZ"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(&fakeEngine{})
	rec := doJSON(t, s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
