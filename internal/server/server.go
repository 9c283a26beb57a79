package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 5 * time.Second

	// maxBodyBytes limits JSON request bodies.
	maxBodyBytes = 64 << 10

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "pollster"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// ErrUnknownTimeline is returned by a [Controller] for timeline names it
// does not serve.
var ErrUnknownTimeline = errors.New("unknown timeline")

// Controller is the part of pollster the API drives.
//
// Implementations must be safe for concurrent use; every request handler
// calls into the Controller from its own goroutine.
type Controller interface {
	// SetViewport reports the viewport of a presentation client. The
	// viewport has already been validated (top >= 0, height > 0). Errors
	// matching [ErrUnknownTimeline] become 404 responses, any other error a
	// 500.
	SetViewport(name string, vp store.Viewport) error

	// NotifyChanged reports a local mutation of a feed so that tasks polling
	// it run on the next tick. It must not block on network calls.
	NotifyChanged(feedID string)

	// Feed returns the header of a feed. Errors matching
	// [gateway.ErrNotFound] become 404 responses, any other error a 502.
	Feed(ctx context.Context, feedID string) (*atom.Feed, error)
}

// Server handles HTTP requests for the timeline API and dashboard.
//
// Routes:
//   - GET /: Serves the embedded dashboard HTML
//   - GET /api/timelines: All rendered timelines as JSON
//   - GET /api/timelines/{name}: One rendered timeline
//   - PUT /api/timelines/{name}/viewport: Viewport updates from the client
//   - POST /api/notify: Local mutation hook
//   - GET /api/feeds/{id}: Feed header lookup
//   - GET /api/sse: Server-Sent Events stream of timeline updates
//   - GET /metrics: Prometheus metrics
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	ctl        Controller
	port       int
	httpServer *http.Server
	assets     fs.FS
	title      string
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store of rendered timelines
//   - ctl: Controller receiving viewport and mutation calls
//   - port: TCP port to listen on
//   - assets: Embedded filesystem containing dashboard assets (may be nil)
//   - title: Dashboard title (defaults to "pollster" if empty)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, ctl Controller, port int, assets fs.FS, title string, logger *slog.Logger) *Server {
	return &Server{
		store:  st,
		ctl:    ctl,
		port:   port,
		assets: assets,
		title:  title,
		logger: logger,
	}
}

// Handler returns the routed handler. [Server.Start] serves it; tests can
// mount it on an httptest server directly. The dashboard route is only
// registered when assets were provided.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/timelines", s.handleTimelines)
	mux.HandleFunc("GET /api/timelines/{name}", s.handleTimeline)
	mux.HandleFunc("PUT /api/timelines/{name}/viewport", s.handleViewport)
	mux.HandleFunc("POST /api/notify", s.handleNotify)
	mux.HandleFunc("GET /api/feeds/{id}", s.handleFeed)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.assets != nil {
		mux.HandleFunc("GET /", s.handleDashboard)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if s.assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// apply title substitution with HTML escaping to prevent XSS
	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleTimelines returns every rendered timeline.
func (s *Server) handleTimelines(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

// handleTimeline returns one rendered timeline.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Get(r.PathValue("name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "timeline not found")
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

// handleViewport forwards a viewport update to the timeline's renderer.
//
// Body: {"top": 0, "height": 900}. Responds 204 on success, 400 for a
// malformed or out-of-range viewport, 404 for an unknown timeline.
func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var vp store.Viewport
	if err := decodeBody(r, &vp); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if vp.Top < 0 || vp.Height <= 0 {
		s.writeError(w, http.StatusBadRequest, "top must be >= 0 and height > 0")
		return
	}

	if err := s.ctl.SetViewport(r.PathValue("name"), vp); err != nil {
		if errors.Is(err, ErrUnknownTimeline) {
			s.writeError(w, http.StatusNotFound, "timeline not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type notifyRequest struct {
	FeedID string `json:"feed_id"`
}

// handleNotify reports a local mutation so affected tasks poll immediately.
//
// Body: {"feed_id": "urn:feed:abc"}. Responds 202 once the tasks are
// boosted; the fetches themselves happen asynchronously.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.FeedID) == "" {
		s.writeError(w, http.StatusBadRequest, "feed_id is required")
		return
	}

	s.ctl.NotifyChanged(req.FeedID)
	w.WriteHeader(http.StatusAccepted)
}

type feedResponse struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Logo     string   `json:"logo,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Updated  string   `json:"updated,omitempty"`
}

// handleFeed returns a feed header, from the cache when possible.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.ctl.Feed(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "feed not found")
			return
		}
		s.logger.Warn("feed lookup failed", "feed_id", r.PathValue("id"), "error", err)
		s.writeError(w, http.StatusBadGateway, "feed lookup failed")
		return
	}

	s.writeJSON(w, http.StatusOK, feedResponse{
		ID:       feed.ID,
		Title:    feed.Title,
		Subtitle: feed.Subtitle,
		Icon:     feed.Icon,
		Logo:     feed.Logo,
		Authors:  feed.Authors,
		Updated:  feed.Updated,
	})
}

// handleSSE streams timeline updates via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked write would prevent the
// handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// write deadlines may not be supported by every ResponseWriter
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// initial state
	for _, t := range s.store.GetAll() {
		data, err := json.Marshal(t)
		if err != nil {
			s.logger.Warn("failed to encode timeline", "timeline", t.Name, "error", err)
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case t, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(t)
			if err != nil {
				s.logger.Warn("failed to encode timeline", "timeline", t.Name, "error", err)
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
