package sessionctx

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/opsdash/dashboard-server/internal/config"
)

func testDefaults() config.ContextDefaults {
	return config.ContextDefaults{
		IP:             "127.0.0.1",
		UserAgent:      "Dashboard/1.0 (unknown client)",
		URL:            "http://localhost:8080",
		Timezone:       "Asia/Jakarta",
		TimezoneOffset: -420,
		Locale:         "id-ID",
	}
}

func TestCapture_NilRequest(t *testing.T) {
	e := NewExtractor(testDefaults())

	c := e.Capture(nil)

	assert.False(t, c.Available)
	assert.Equal(t, "127.0.0.1", c.ClientIP)
	assert.Equal(t, "Asia/Jakarta", c.Timezone)
	assert.Equal(t, "id-ID", c.Locale)
	assert.Len(t, c.Fallbacks, 6)
}

func TestCapture_FullRequest(t *testing.T) {
	// httptest requests arrive from 192.0.2.1.
	e := NewExtractor(testDefaults(), netip.MustParsePrefix("192.0.2.0/24"), netip.MustParsePrefix("10.0.0.0/8"))

	r := httptest.NewRequest(http.MethodGet, "http://dash.example.com/reports?embed=true", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set(HeaderTimezone, "Europe/Berlin")
	r.Header.Set(HeaderTimezoneOffset, "-60")
	r.Header.Set("Accept-Language", "en-GB,en;q=0.8")

	c := e.Capture(r)

	assert.True(t, c.Available)
	assert.Empty(t, c.Fallbacks)
	assert.Equal(t, "203.0.113.9", c.ClientIP)
	assert.Equal(t, "Mozilla/5.0", c.UserAgent)
	assert.Equal(t, "http://dash.example.com/reports?embed=true", c.URL)
	assert.Equal(t, "Europe/Berlin", c.Timezone)
	assert.Equal(t, -60, c.TimezoneOffset)
	assert.Equal(t, "en-GB", c.Locale)
	assert.True(t, c.IsEmbedded)
}

func TestCapture_ClientIP(t *testing.T) {
	proxies := NewExtractor(testDefaults(), netip.MustParsePrefix("10.0.0.0/8"))

	tests := []struct {
		name       string
		extractor  *Extractor
		remoteAddr string
		forwarded  string
		realIP     string
		expected   string
	}{
		{"untrusted peer ignores forwarding", NewExtractor(testDefaults()), "198.51.100.7:5000", "203.0.113.9", "203.0.113.10", "198.51.100.7"},
		{"trusted peer uses forwarded client", proxies, "10.0.0.2:443", "203.0.113.9", "", "203.0.113.9"},
		{"spoofed leading entry is skipped", proxies, "10.0.0.2:443", "1.2.3.4, 203.0.113.9", "", "203.0.113.9"},
		{"trusted hops are walked past", proxies, "10.0.0.2:443", "203.0.113.9, 10.0.0.3", "", "203.0.113.9"},
		{"all hops trusted yields leftmost", proxies, "10.0.0.2:443", "10.1.1.1, 10.0.0.3", "", "10.1.1.1"},
		{"trusted peer uses real ip header", proxies, "10.0.0.2:443", "", "203.0.113.11", "203.0.113.11"},
		{"trusted peer without headers", proxies, "10.0.0.2:443", "", "", "10.0.0.2"},
		{"ipv4-mapped peer is unmapped", NewExtractor(testDefaults()), "[::ffff:198.51.100.7]:80", "", "", "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}

			c := tt.extractor.Capture(r)
			assert.Equal(t, tt.expected, c.ClientIP)
			assert.False(t, c.UsedFallback(FieldClientIP))
		})
	}
}

func TestCapture_FieldFallbacks(t *testing.T) {
	e := NewExtractor(testDefaults())

	t.Run("invalid forwarded address falls back to remote addr", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Forwarded-For", "not-an-ip")
		r.RemoteAddr = "192.168.1.20:5123"

		c := e.Capture(r)
		assert.Equal(t, "192.168.1.20", c.ClientIP)
		assert.False(t, c.UsedFallback(FieldClientIP))
	})

	t.Run("unparseable remote addr uses default", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "garbage"

		c := e.Capture(r)
		assert.Equal(t, "127.0.0.1", c.ClientIP)
		assert.True(t, c.UsedFallback(FieldClientIP))
	})

	t.Run("unknown timezone uses default", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderTimezone, "Nowhere/Special")

		c := e.Capture(r)
		assert.Equal(t, "Asia/Jakarta", c.Timezone)
		assert.True(t, c.UsedFallback(FieldTimezone))
	})

	t.Run("timezone from cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: TimezoneCookie, Value: "UTC"})

		c := e.Capture(r)
		assert.Equal(t, "UTC", c.Timezone)
	})

	t.Run("missing agent and locale use defaults", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Del("User-Agent")

		c := e.Capture(r)
		assert.Equal(t, "Dashboard/1.0 (unknown client)", c.UserAgent)
		assert.Equal(t, "id-ID", c.Locale)
		assert.True(t, c.UsedFallback(FieldUserAgent))
		assert.True(t, c.UsedFallback(FieldLocale))
		assert.True(t, c.UsedFallback(FieldTimezoneOffset))
		assert.False(t, c.IsEmbedded)
	})

	t.Run("out of range offset uses default", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderTimezoneOffset, "9999")

		c := e.Capture(r)
		assert.Equal(t, -420, c.TimezoneOffset)
	})
}

func TestDeploymentType(t *testing.T) {
	tests := []struct {
		ip       string
		expected DeploymentType
		local    bool
	}{
		{"127.0.0.1", DeploymentLocalhost, true},
		{"::1", DeploymentLocalhost, true},
		{"192.168.0.12", DeploymentLAN, true},
		{"10.1.2.3", DeploymentLocalNetwork, true},
		{"172.16.5.4", DeploymentLocalNetwork, true},
		{"8.8.8.8", DeploymentExternal, false},
		{"bogus", DeploymentExternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			c := Context{ClientIP: tt.ip}
			assert.Equal(t, tt.expected, c.DeploymentType())
			assert.Equal(t, tt.local, c.IsLocalAccess())
		})
	}
}

func TestDisplayTimezone(t *testing.T) {
	assert.Equal(t, "Asia/Jakarta (UTC+07:00)", Context{Timezone: "Asia/Jakarta", TimezoneOffset: -420}.DisplayTimezone())
	assert.Equal(t, "America/St_Johns (UTC-03:30)", Context{Timezone: "America/St_Johns", TimezoneOffset: 210}.DisplayTimezone())
	assert.Equal(t, "UTC (UTC+00:00)", Context{Timezone: "UTC"}.DisplayTimezone())
}

func TestClientInfo(t *testing.T) {
	c := Context{ClientIP: "10.0.0.1", UserAgent: "curl/8.0", Timezone: "UTC"}
	assert.Equal(t, "IP: 10.0.0.1 | UA: curl/8.0 | TZ: UTC", c.ClientInfo())

	t.Run("long agents are cut on rune boundaries", func(t *testing.T) {
		c := Context{ClientIP: "10.0.0.1", UserAgent: strings.Repeat("é", 60), Timezone: "UTC"}
		info := c.ClientInfo()

		assert.True(t, utf8.ValidString(info))
		assert.Contains(t, info, "UA: "+strings.Repeat("é", 50)+"... |")
	})
}
