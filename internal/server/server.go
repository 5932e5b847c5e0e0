package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/pickclaims/internal/collect"
	"github.com/TobiSchelling/pickclaims/internal/config"
	"github.com/TobiSchelling/pickclaims/internal/dataset"
	"github.com/TobiSchelling/pickclaims/internal/ordering"
	"github.com/TobiSchelling/pickclaims/internal/session"
	"github.com/TobiSchelling/pickclaims/internal/submit"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

const (
	msgMissingParticipant = "Please enter your Participant ID before submitting."
	msgSubmitFailed       = "Your %s flags could not be submitted. Please try again."
	msgSubmitted          = "Thank you! Your %s flags have been submitted to Google Sheets."
	msgStaleView          = "This page was out of date, so your %s flags were not submitted. Please review the posts below and submit again."
	msgNothingToSubmit    = "There are no %s posts to submit."
)

// Deps are the collaborators the server drives.
type Deps struct {
	Datasets *dataset.Cache
	Sink     *submit.Sink
	Sessions *session.Store
	Logger   *zap.Logger
}

// Server is the HTTP server for the flagging form.
type Server struct {
	cfg       *config.Config
	datasets  *dataset.Cache
	sink      *submit.Sink
	sessions  *session.Store
	collector *collect.Collector
	logger    *zap.Logger
	pages     map[string]*template.Template
	mux       *http.ServeMux
}

type message struct {
	Kind string // "warning", "success" or "error"
	Text string
}

type tabData struct {
	Condition ordering.Condition
	Slug      string
	Items     []ordering.Item
	Token     string
	Checked   map[string]bool
	Message   *message
}

type pageData struct {
	Title         string
	Instructions  string
	ParticipantID string
	Active        string
	Tabs          []tabData
}

// New creates a new Server.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"comma":    humanize.Comma,
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	pageNames := []string{"index.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:       cfg,
		datasets:  deps.Datasets,
		sink:      deps.Sink,
		sessions:  deps.Sessions,
		collector: collect.New(),
		logger:    logger.With(zap.String("system", "http")),
		pages:     pages,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /submit/{condition}", s.handleSubmit)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) source(c ordering.Condition) string {
	if c == ordering.ToolRanked {
		return s.cfg.Datasets.Tool
	}
	return s.cfg.Datasets.Manual
}

func (s *Server) target(c ordering.Condition) string {
	if c == ordering.ToolRanked {
		return s.cfg.Sheets.ToolSheet
	}
	return s.cfg.Sheets.ManualSheet
}

// buildView loads the condition's dataset from the cache and orders it.
// The tool-ranked dataset must carry model_score.
func (s *Server) buildView(c ordering.Condition) (*ordering.View, error) {
	table, err := s.datasets.Get(s.source(c))
	if err != nil {
		return nil, err
	}
	if c == ordering.ToolRanked {
		if err := dataset.RequireColumns(table, dataset.ColModelScore); err != nil {
			return nil, err
		}
	}
	return ordering.Build(c, table)
}

// handleIndex is a fresh page load: every condition gets a newly built
// view, so the manual order is reshuffled and unsubmitted flags are lost.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)

	views := make([]*ordering.View, 0, len(ordering.Conditions))
	for _, c := range ordering.Conditions {
		v, err := s.buildView(c)
		if err != nil {
			s.logger.Error("building view failed", zap.String("condition", string(c)), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		views = append(views, v)
	}

	var data *pageData
	s.sessions.Do(sess, func(sess *session.Session) {
		for _, v := range views {
			sess.SetView(v)
		}
		data = s.pageData(sess, ordering.Manual, nil)
	})

	s.render(w, http.StatusOK, "index.html", data)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c, err := ordering.ParseCondition(r.PathValue("condition"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.Lookup(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	participantID := strings.TrimSpace(r.PostFormValue("participant_id"))
	checked := collect.FlagsFromForm(r.PostForm)
	token := r.PostFormValue("view")

	var (
		view   *ordering.View
		userID string
		stale  bool
	)
	s.sessions.Do(sess, func(sess *session.Session) {
		view = sess.View(c)
		if view == nil {
			return
		}
		sess.ParticipantID = participantID
		sess.SetFlags(c, checked)
		userID = sess.UserID
		stale = token == "" || token != sess.ViewToken(c)
	})
	if view == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	// The posted flags belong to an order that a later page load replaced.
	// Ranking them against the stored view would record the wrong ranks.
	if stale {
		s.logger.Info("stale submission rejected", zap.String("condition", string(c)))
		s.renderTab(w, http.StatusConflict, sess, c, &message{Kind: "warning", Text: fmt.Sprintf(msgStaleView, c)})
		return
	}

	res, err := s.collector.Collect(userID, participantID, view, checked)
	if err != nil {
		s.logger.Info("submission rejected", zap.String("condition", string(c)), zap.Error(err))
		s.renderTab(w, submit.MapHTTPStatus(err), sess, c, &message{Kind: "warning", Text: msgMissingParticipant})
		return
	}
	if len(res.Records) == 0 {
		s.renderTab(w, http.StatusUnprocessableEntity, sess, c, &message{Kind: "warning", Text: fmt.Sprintf(msgNothingToSubmit, c)})
		return
	}

	ctx := r.Context()
	if d := s.cfg.SheetsTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if _, err := s.sink.Submit(ctx, res.Records, s.target(c)); err != nil {
		s.logger.Error("submission failed",
			zap.String("condition", string(c)),
			zap.String("target", s.target(c)),
			zap.Error(err))
		s.renderTab(w, submit.MapHTTPStatus(err), sess, c, &message{Kind: "error", Text: fmt.Sprintf(msgSubmitFailed, c)})
		return
	}

	s.renderTab(w, http.StatusOK, sess, c, &message{Kind: "success", Text: fmt.Sprintf(msgSubmitted, c)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// renderTab re-renders the page from the session's stored views with c
// active and msg shown on its tab.
func (s *Server) renderTab(w http.ResponseWriter, status int, sess *session.Session, c ordering.Condition, msg *message) {
	var data *pageData
	s.sessions.Do(sess, func(sess *session.Session) {
		for _, other := range ordering.Conditions {
			if sess.View(other) != nil {
				continue
			}
			v, err := s.buildView(other)
			if err != nil {
				s.logger.Warn("rebuilding view failed", zap.String("condition", string(other)), zap.Error(err))
				continue
			}
			sess.SetView(v)
		}
		data = s.pageData(sess, c, msg)
	})
	s.render(w, status, "index.html", data)
}

// pageData must be called with the session held.
func (s *Server) pageData(sess *session.Session, active ordering.Condition, msg *message) *pageData {
	data := &pageData{
		Title:         s.cfg.Page.Title,
		Instructions:  s.cfg.Page.Instructions,
		ParticipantID: sess.ParticipantID,
		Active:        active.Slug(),
	}
	for _, c := range ordering.Conditions {
		tab := tabData{
			Condition: c,
			Slug:      c.Slug(),
			Token:     sess.ViewToken(c),
			Checked:   sess.Flags(c),
		}
		if v := sess.View(c); v != nil {
			tab.Items = v.Items
		}
		if c == active {
			tab.Message = msg
		}
		data.Tabs = append(data.Tabs, tab)
	}
	return data
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error("rendering template failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
