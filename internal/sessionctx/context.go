// Package sessionctx captures client metadata (address, agent, timezone,
// locale) from an incoming request, substituting configured defaults for
// anything the request cannot supply.
package sessionctx

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/opsdash/dashboard-server/internal/config"
	"github.com/opsdash/dashboard-server/internal/model"
)

// Field names recorded in Context.Fallbacks.
const (
	FieldClientIP       = "client_ip"
	FieldUserAgent      = "user_agent"
	FieldURL            = "url"
	FieldTimezone       = "timezone"
	FieldTimezoneOffset = "timezone_offset"
	FieldLocale         = "locale"
)

const (
	HeaderTimezone       = "X-Timezone"
	HeaderTimezoneOffset = "X-Timezone-Offset"
	TimezoneCookie       = "tz"
)

type DeploymentType string

const (
	DeploymentLocalhost    DeploymentType = "localhost"
	DeploymentLAN          DeploymentType = "lan"
	DeploymentLocalNetwork DeploymentType = "local_network"
	DeploymentExternal     DeploymentType = "external"
)

// Context is a snapshot of client metadata for one request.
type Context struct {
	ClientIP       string   `json:"clientIp"`
	UserAgent      string   `json:"userAgent"`
	URL            string   `json:"url"`
	Timezone       string   `json:"timezone"`
	TimezoneOffset int      `json:"timezoneOffset"`
	Locale         string   `json:"locale"`
	IsEmbedded     bool     `json:"isEmbedded"`
	Available      bool     `json:"available"`
	Fallbacks      []string `json:"fallbacks,omitempty"`
}

type Extractor struct {
	defaults config.ContextDefaults
	trusted  []netip.Prefix
}

// NewExtractor builds an extractor. X-Forwarded-For and X-Real-IP are only
// read when the direct peer falls inside trustedProxies.
func NewExtractor(defaults config.ContextDefaults, trustedProxies ...netip.Prefix) *Extractor {
	return &Extractor{defaults: defaults, trusted: trustedProxies}
}

// Defaults returns a context made entirely of configured defaults.
func (e *Extractor) Defaults() Context {
	return Context{
		ClientIP:       e.defaults.IP,
		UserAgent:      e.defaults.UserAgent,
		URL:            e.defaults.URL,
		Timezone:       e.defaults.Timezone,
		TimezoneOffset: e.defaults.TimezoneOffset,
		Locale:         e.defaults.Locale,
		Fallbacks: []string{
			FieldClientIP, FieldUserAgent, FieldURL,
			FieldTimezone, FieldTimezoneOffset, FieldLocale,
		},
	}
}

// Capture never fails. Each field falls back independently.
func (e *Extractor) Capture(r *http.Request) Context {
	if r == nil {
		return e.Defaults()
	}

	c := Context{Available: true}

	if ip, ok := e.clientIP(r); ok {
		c.ClientIP = ip
	} else {
		c.ClientIP = e.defaults.IP
		c.fallback(FieldClientIP)
	}

	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		c.UserAgent = ua
	} else {
		c.UserAgent = e.defaults.UserAgent
		c.fallback(FieldUserAgent)
	}

	if u := requestURL(r); u != "" {
		c.URL = u
	} else {
		c.URL = e.defaults.URL
		c.fallback(FieldURL)
	}

	if tz, ok := timezone(r); ok {
		c.Timezone = tz
	} else {
		c.Timezone = e.defaults.Timezone
		c.fallback(FieldTimezone)
	}

	if off, ok := timezoneOffset(r); ok {
		c.TimezoneOffset = off
	} else {
		c.TimezoneOffset = e.defaults.TimezoneOffset
		c.fallback(FieldTimezoneOffset)
	}

	if loc, ok := locale(r); ok {
		c.Locale = loc
	} else {
		c.Locale = e.defaults.Locale
		c.fallback(FieldLocale)
	}

	c.IsEmbedded = r.Header.Get("Sec-Fetch-Dest") == "iframe" || r.URL.Query().Get("embed") == "true"

	if len(c.Fallbacks) > 0 {
		log.Debug().Strs("fallbacks", c.Fallbacks).Msg("session context used defaults")
	}
	return c
}

func (c *Context) fallback(field string) {
	c.Fallbacks = append(c.Fallbacks, field)
}

// UsedFallback reports whether field was filled from defaults.
func (c Context) UsedFallback(field string) bool {
	for _, f := range c.Fallbacks {
		if f == field {
			return true
		}
	}
	return false
}

const clientInfoAgentLen = 50

// ClientInfo is a short human-readable description of the client.
func (c Context) ClientInfo() string {
	agent := model.Truncate(c.UserAgent, clientInfoAgentLen)
	if agent != c.UserAgent {
		agent += "..."
	}
	return fmt.Sprintf("IP: %s | UA: %s | TZ: %s", c.ClientIP, agent, c.Timezone)
}

func (c Context) IsLocalAccess() bool {
	addr, err := netip.ParseAddr(c.ClientIP)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate()
}

func (c Context) DeploymentType() DeploymentType {
	addr, err := netip.ParseAddr(c.ClientIP)
	if err != nil {
		return DeploymentExternal
	}
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return DeploymentLocalhost
	case addr.Is4() && addr.As4()[0] == 192 && addr.As4()[1] == 168:
		return DeploymentLAN
	case addr.IsPrivate():
		return DeploymentLocalNetwork
	default:
		return DeploymentExternal
	}
}

// DisplayTimezone renders the zone with its UTC offset, e.g. "Asia/Jakarta (UTC+07:00)".
func (c Context) DisplayTimezone() string {
	// JavaScript-style offsets are minutes west of UTC.
	minutes := -c.TimezoneOffset
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("%s (UTC%c%02d:%02d)", c.Timezone, sign, minutes/60, minutes%60)
}

// clientIP resolves the caller's address. Forwarding headers are walked from
// the right, skipping trusted hops, so a client cannot choose its own key by
// prepending entries.
func (e *Extractor) clientIP(r *http.Request) (string, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	peer, ok := parseAddr(host)
	if !ok {
		return "", false
	}
	if !e.isTrusted(peer) {
		return peer.String(), true
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, ok := parseAddr(hops[i])
			if !ok {
				break
			}
			if !e.isTrusted(addr) || i == 0 {
				return addr.String(), true
			}
		}
	}
	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr.String(), true
	}
	return peer.String(), true
}

func (e *Extractor) isTrusted(addr netip.Addr) bool {
	for _, p := range e.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func requestURL(r *http.Request) string {
	if r.URL == nil || r.Host == "" {
		return ""
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func timezone(r *http.Request) (string, bool) {
	name := r.Header.Get(HeaderTimezone)
	if name == "" {
		if cookie, err := r.Cookie(TimezoneCookie); err == nil {
			name = cookie.Value
		}
	}
	if name == "" {
		return "", false
	}
	if _, err := time.LoadLocation(name); err != nil {
		return "", false
	}
	return name, true
}

func timezoneOffset(r *http.Request) (int, bool) {
	v := r.Header.Get(HeaderTimezoneOffset)
	if v == "" {
		return 0, false
	}
	off, err := strconv.Atoi(v)
	if err != nil || off < -14*60 || off > 14*60 {
		return 0, false
	}
	return off, true
}

func locale(r *http.Request) (string, bool) {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return "", false
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 || tags[0] == language.Und {
		return "", false
	}
	return tags[0].String(), true
}
