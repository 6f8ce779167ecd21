// Package handler contains the HTTP handlers for the job tracker's web
// frontend.
//
// Handlers are glue: they read the request, call a service, and render a
// page, a redirect, or JSON. Sign-in decisions live in the service package.
package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// Pages holds the parsed page templates. Each page is base.html plus its
// own file defining "content".
type Pages struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

var pageNames = []string{"login", "callback", "error", "simple_auth", "account"}

// NewPages parses every page template once at startup.
func NewPages(logger *slog.Logger) (*Pages, error) {
	base, err := template.ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("handler: parsing base template: %w", err)
	}

	p := &Pages{pages: make(map[string]*template.Template, len(pageNames)), logger: logger}
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("handler: cloning base template: %w", err)
		}
		tmpl, err := clone.ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s template: %w", name, err)
		}
		p.pages[name] = tmpl
	}
	return p, nil
}

type loginData struct {
	Title     string
	TestLogin bool
}

type callbackData struct {
	Title string
	URL   string
}

type errorData struct {
	Title   string
	Failure *service.Failure
	// Current is the page a Reload action goes back to.
	Current string
}

type simpleAuthData struct {
	Title    string
	Error    string
	Email    string
	FullName string
}

type accountData struct {
	Title string
	User  *model.CookieUser
}

// render executes page into a buffer first, so a template error never
// leaves a half-written page behind.
func (p *Pages) render(w http.ResponseWriter, status int, page string, data any) {
	tmpl, ok := p.pages[page]
	if !ok {
		p.logger.Error("unknown page template", slog.String("page", page))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		p.logger.Error("template execution failed",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderFailure shows f with its recovery actions. current is the
// same-origin URL a Reload action returns to.
func (p *Pages) renderFailure(w http.ResponseWriter, current string, f *service.Failure) {
	p.render(w, failureStatus(f.Kind), "error", errorData{
		Title:   "Authentication Error",
		Failure: f,
		Current: current,
	})
}

func failureStatus(kind service.FailureKind) int {
	switch kind {
	case service.FailureProvider, service.FailureNoSession, service.FailureUnauthorized:
		return http.StatusUnauthorized
	case service.FailureBackendUnavailable:
		return http.StatusServiceUnavailable
	case service.FailureBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
