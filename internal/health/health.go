// Package health reports whether the pieces a session depends on are working
// for the current request. It is advisory: the registry is left as it was
// found.
package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/mirror"
	"github.com/opsdash/dashboard-server/internal/sessionctx"
)

type Status string

const (
	StatusHealthy              Status = "healthy"
	StatusHealthyWithFallbacks Status = "healthy_with_fallbacks"
	StatusDegraded             Status = "degraded"
	StatusUnhealthy            Status = "unhealthy"
)

type Feature struct {
	Available      bool   `json:"available"`
	FallbackNeeded bool   `json:"fallbackNeeded"`
	FallbackValue  string `json:"fallbackValue,omitempty"`
}

type ContextHealth struct {
	Available    bool               `json:"available"`
	Features     map[string]Feature `json:"features"`
	Issues       []string           `json:"issues"`
	FallbackUsed bool               `json:"fallbackUsed"`
}

type MirrorHealth struct {
	Available   bool     `json:"available"`
	TestPassed  bool     `json:"testPassed"`
	ActiveViews int      `json:"activeViews"`
	Issues      []string `json:"issues"`
}

type Report struct {
	Timestamp       time.Time                 `json:"timestamp"`
	Overall         Status                    `json:"overall"`
	Context         ContextHealth             `json:"context"`
	Mirror          MirrorHealth              `json:"mirror"`
	DeploymentType  sessionctx.DeploymentType `json:"deploymentType"`
	LocalAccess     bool                      `json:"localAccess"`
	Recommendations []string                  `json:"recommendations"`
}

var summaries = map[Status]string{
	StatusHealthy:              "System healthy",
	StatusHealthyWithFallbacks: "Healthy (fallback mode)",
	StatusDegraded:             "Degraded (still working)",
	StatusUnhealthy:            "Unhealthy",
}

// Summary is a short label for display.
func (r Report) Summary() string {
	if s, ok := summaries[r.Overall]; ok {
		return s
	}
	return "Unknown status"
}

// ViewStore is the part of the mirror registry the checker exercises.
type ViewStore interface {
	Register(m *mirror.Mirror) string
	Get(viewID string) (*mirror.Mirror, bool)
	Remove(viewID string)
	Len() int
}

type Checker struct {
	extractor *sessionctx.Extractor
	views     ViewStore
	now       func() time.Time
}

func NewChecker(extractor *sessionctx.Extractor, views ViewStore) *Checker {
	return &Checker{
		extractor: extractor,
		views:     views,
		now:       time.Now,
	}
}

func (c *Checker) Check(r *http.Request) Report {
	sc := c.extractor.Capture(r)
	ctxHealth := checkContext(sc, c.extractor.Defaults())
	mirrorHealth := c.checkMirror()

	report := Report{
		Timestamp:       c.now(),
		Context:         ctxHealth,
		Mirror:          mirrorHealth,
		DeploymentType:  sc.DeploymentType(),
		LocalAccess:     sc.IsLocalAccess(),
		Recommendations: []string{},
	}

	switch {
	case !mirrorHealth.TestPassed:
		report.Overall = StatusUnhealthy
		report.Recommendations = append(report.Recommendations,
			"Session mirror unavailable: logins cannot be kept, restart the server")
	case !ctxHealth.Available:
		report.Overall = StatusDegraded
		report.Recommendations = append(report.Recommendations,
			"Client context unavailable: configured defaults are in use")
	case ctxHealth.FallbackUsed:
		report.Overall = StatusHealthyWithFallbacks
		report.Recommendations = append(report.Recommendations, fallbackAdvice(sc)...)
	default:
		report.Overall = StatusHealthy
	}

	switch report.DeploymentType {
	case sessionctx.DeploymentLAN, sessionctx.DeploymentLocalNetwork:
		report.Recommendations = append(report.Recommendations, "LAN deployment detected")
	case sessionctx.DeploymentLocalhost:
		report.Recommendations = append(report.Recommendations, "Local development detected")
	}

	log.Info().
		Str("overall", string(report.Overall)).
		Str("deployment", string(report.DeploymentType)).
		Bool("fallbackUsed", ctxHealth.FallbackUsed).
		Msg("session health check complete")

	return report
}

func checkContext(sc sessionctx.Context, defaults sessionctx.Context) ContextHealth {
	h := ContextHealth{
		Available: sc.Available,
		Features:  make(map[string]Feature),
		Issues:    []string{},
	}
	fallbackValues := map[string]string{
		sessionctx.FieldClientIP:       defaults.ClientIP,
		sessionctx.FieldUserAgent:      defaults.UserAgent,
		sessionctx.FieldURL:            defaults.URL,
		sessionctx.FieldTimezone:       defaults.Timezone,
		sessionctx.FieldTimezoneOffset: fmt.Sprint(defaults.TimezoneOffset),
		sessionctx.FieldLocale:         defaults.Locale,
	}
	for field, fallback := range fallbackValues {
		f := Feature{Available: sc.Available}
		if sc.UsedFallback(field) {
			f.FallbackNeeded = true
			f.FallbackValue = fallback
			h.FallbackUsed = true
		}
		h.Features[field] = f
	}
	if !sc.Available {
		h.Issues = append(h.Issues, "no request context")
	}
	return h
}

// checkMirror runs a scratch view through the registry: register, look up,
// write, read back, delete, then remove it again.
func (c *Checker) checkMirror() MirrorHealth {
	h := MirrorHealth{Issues: []string{}}
	if c.views == nil {
		h.Issues = append(h.Issues, "view registry not configured")
		return h
	}
	h.ActiveViews = c.views.Len()

	scratch := mirror.New()
	id := c.views.Register(scratch)
	if id == "" {
		h.Issues = append(h.Issues, "view could not be registered")
		return h
	}
	h.Available = true
	defer c.views.Remove(id)

	m, ok := c.views.Get(id)
	if !ok || m != scratch {
		h.Issues = append(h.Issues, "registered view not found")
		return h
	}

	key := "_health_" + uuid.NewString()
	m.Set(key, id)
	if v, ok := m.Get(key); !ok || v != id {
		h.Issues = append(h.Issues, "mirror write test failed")
		return h
	}
	m.Delete(key)
	if m.Has(key) {
		h.Issues = append(h.Issues, "mirror delete test failed")
		return h
	}

	c.views.Remove(id)
	if _, ok := c.views.Get(id); ok {
		h.Issues = append(h.Issues, "view removal failed")
		return h
	}
	h.TestPassed = true
	return h
}

func fallbackAdvice(sc sessionctx.Context) []string {
	var out []string
	if sc.UsedFallback(sessionctx.FieldClientIP) {
		out = append(out, "Forward X-Forwarded-For or X-Real-IP from the proxy")
	}
	if sc.UsedFallback(sessionctx.FieldTimezone) {
		out = append(out, "Send the X-Timezone header or tz cookie from the client")
	}
	if sc.UsedFallback(sessionctx.FieldLocale) {
		out = append(out, "Client sent no Accept-Language: default locale in use")
	}
	if len(out) == 0 {
		out = append(out, "Some client metadata missing: defaults in use")
	}
	return out
}
