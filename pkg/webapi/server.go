// Package webapi exposes the engine over HTTP: submissions and resumptions
// stream step events as server-sent events, plus thread, credential, and
// knowledge management endpoints. Internal error detail stays in the logs;
// clients get generic messages.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticketpilot/pkg/agent"
	"ticketpilot/pkg/graph"
	"ticketpilot/pkg/knowledge"
	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/proto"
	"ticketpilot/pkg/store"
	"ticketpilot/pkg/ticket"
	"ticketpilot/pkg/version"
)

// UserHeader carries the authenticated user id set by the fronting proxy.
const UserHeader = "X-User-ID"

// Orchestrator is the engine surface the handlers need.
type Orchestrator interface {
	Submit(ctx context.Context, req agent.SubmitRequest) (string, <-chan graph.Event, error)
	Resume(ctx context.Context, userID, threadID string, decision proto.ResumeDecision) (<-chan graph.Event, error)
	DeleteThread(ctx context.Context, userID, threadID string) error
	ListThreads(ctx context.Context, userID string) ([]proto.ThreadSummary, error)
}

// CredentialStore is the credential surface the handlers need.
type CredentialStore interface {
	Put(ctx context.Context, cred ticket.Credential) (string, error)
	List(ctx context.Context, userID string) ([]ticket.Credential, error)
	Delete(ctx context.Context, userID string, tracker ticket.TrackerType) error
}

// KnowledgeStore is the document surface the handlers need.
type KnowledgeStore interface {
	Add(ctx context.Context, projectID string, doc proto.Document) (string, error)
	Delete(ctx context.Context, id string) error
}

// Server is the HTTP front of the daemon.
type Server struct {
	echo      *echo.Echo
	engine    Orchestrator
	creds     CredentialStore
	knowledge KnowledgeStore
	registry  *prometheus.Registry
	logger    *logx.Logger
}

// NewServer wires the routes. registry may be nil to disable /metrics.
func NewServer(engine Orchestrator, credStore CredentialStore, knowledgeStore KnowledgeStore, registry *prometheus.Registry) *Server {
	s := &Server{
		echo:      echo.New(),
		engine:    engine,
		creds:     credStore,
		knowledge: knowledgeStore,
		registry:  registry,
		logger:    logx.NewLogger("webapi"),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())

	s.echo.GET("/healthz", s.health)
	if registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/v1")
	v1.POST("/agent/stream", s.stream)
	v1.POST("/agent/resume", s.resume)
	v1.GET("/agent/threads", s.listThreads)
	v1.DELETE("/agent/threads/:id", s.deleteThread)
	v1.POST("/credentials", s.putCredential)
	v1.GET("/credentials", s.listCredentials)
	v1.DELETE("/credentials/:tracker", s.deleteCredential)
	v1.POST("/knowledge", s.addDocument)
	v1.DELETE("/knowledge/:id", s.deleteDocument)

	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening on %s", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func userID(c echo.Context) (string, error) {
	id := c.Request().Header.Get(UserHeader)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing "+UserHeader+" header")
	}
	return id, nil
}

type streamRequest struct {
	ThreadID  string `json:"thread_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Input     string `json:"input"`
}

func (s *Server) stream(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	var req streamRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Input == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "input is required"})
	}

	threadID, events, err := s.engine.Submit(c.Request().Context(), agent.SubmitRequest{
		UserID:    user,
		ProjectID: req.ProjectID,
		ThreadID:  req.ThreadID,
		Input:     req.Input,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "thread not found"})
		}
		s.logger.WithThread(req.ThreadID).Error("submit: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "submission failed"})
	}

	return s.writeEventStream(c, threadID, events)
}

type resumeRequest struct {
	ThreadID string               `json:"thread_id"`
	Decision proto.ResumeDecision `json:"decision"`
}

func (s *Server) resume(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ThreadID == "" || req.Decision.Action == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "thread_id and decision.action are required"})
	}

	events, err := s.engine.Resume(c.Request().Context(), user, req.ThreadID, req.Decision)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "thread not found"})
		case errors.Is(err, agent.ErrNotSuspended):
			return c.JSON(http.StatusConflict, map[string]string{"error": "thread is not awaiting a decision"})
		default:
			s.logger.WithThread(req.ThreadID).Error("resume: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "resume failed"})
		}
	}

	return s.writeEventStream(c, req.ThreadID, events)
}

// writeEventStream relays engine events as server-sent events, flushing after
// each one. The thread id arrives first so new conversations learn their id
// before any model output.
func (s *Server) writeEventStream(c echo.Context, threadID string, events <-chan graph.Event) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	fmt.Fprintf(resp, "event: thread\ndata: {\"thread_id\":%q}\n\n", threadID)
	resp.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Kind, payload)
		resp.Flush()
	}
	return nil
}

func (s *Server) listThreads(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	threads, err := s.engine.ListThreads(c.Request().Context(), user)
	if err != nil {
		s.logger.Error("list threads for %s: %v", user, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "listing failed"})
	}
	if threads == nil {
		threads = []proto.ThreadSummary{}
	}
	return c.JSON(http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) deleteThread(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	threadID := c.Param("id")
	if err := s.engine.DeleteThread(c.Request().Context(), user, threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "thread not found"})
		}
		s.logger.WithThread(threadID).Error("delete: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

type credentialRequest struct {
	Tracker string `json:"tracker"`
	Domain  string `json:"domain"`
	Email   string `json:"email,omitempty"`
	Secret  string `json:"secret"`
}

func (s *Server) putCredential(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	var req credentialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	tracker := ticket.TrackerType(req.Tracker)
	if tracker != ticket.TrackerJira && tracker != ticket.TrackerAzure {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tracker must be jira or azure"})
	}
	if req.Domain == "" || req.Secret == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "domain and secret are required"})
	}

	id, err := s.creds.Put(c.Request().Context(), ticket.Credential{
		UserID:  user,
		Tracker: tracker,
		Domain:  req.Domain,
		Email:   req.Email,
		Secret:  req.Secret,
	})
	if err != nil {
		s.logger.Error("store credential for %s: %v", user, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "storing credential failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

func (s *Server) listCredentials(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	creds, err := s.creds.List(c.Request().Context(), user)
	if err != nil {
		s.logger.Error("list credentials for %s: %v", user, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "listing failed"})
	}

	type item struct {
		ID      string `json:"id"`
		Tracker string `json:"tracker"`
		Domain  string `json:"domain"`
		Email   string `json:"email,omitempty"`
	}
	items := make([]item, 0, len(creds))
	for _, cred := range creds {
		items = append(items, item{
			ID:      cred.ID,
			Tracker: string(cred.Tracker),
			Domain:  cred.Domain,
			Email:   cred.Email,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"credentials": items})
}

func (s *Server) deleteCredential(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	tracker := ticket.TrackerType(c.Param("tracker"))
	if err := s.creds.Delete(c.Request().Context(), user, tracker); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "credential not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

type documentRequest struct {
	ProjectID string `json:"project_id"`
	Source    string `json:"source,omitempty"`
	Content   string `json:"content"`
}

func (s *Server) addDocument(c echo.Context) error {
	if _, err := userID(c); err != nil {
		return err
	}
	var req documentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	id, err := s.knowledge.Add(c.Request().Context(), req.ProjectID, proto.Document{
		Source:  req.Source,
		Content: req.Content,
	})
	if err != nil {
		s.logger.Error("add document: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "adding document failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

func (s *Server) deleteDocument(c echo.Context) error {
	if _, err := userID(c); err != nil {
		return err
	}
	if err := s.knowledge.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, knowledge.ErrDocumentNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
		}
		s.logger.Error("delete document: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
