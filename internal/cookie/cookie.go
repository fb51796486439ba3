// Package cookie mirrors the current access token into a cookie that the
// server side can read on every request.
//
// The cookie is a mirror, not the source of truth: the token store owns the
// token, and every server-side read re-verifies whatever the cookie holds.
package cookie

import (
	"net/http"
	"net/url"
	"strings"
)

// Mirror writes or clears the token cookie. Implementations never fail;
// contexts that cannot hold cookies use NoopMirror.
type Mirror interface {
	Set(token string)
	Clear()
}

// New builds the mirror cookie: Path=/, SameSite=Lax, session lifetime,
// Secure only when served over an encrypted transport.
func New(name, token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
}

// Expired builds the cookie that removes the mirror (Max-Age=0).
func Expired(name string, secure bool) *http.Cookie {
	c := New(name, "", secure)
	c.MaxAge = -1
	return c
}

// Read returns the mirrored token from r, if present and non-empty.
func Read(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// NoopMirror is the Mirror for non-interactive contexts.
type NoopMirror struct{}

func (NoopMirror) Set(string) {}
func (NoopMirror) Clear()     {}

// JarMirror mirrors into a cookie jar for one site, the way a browser tab
// writes document.cookie. Requests made through a client using the same jar
// then carry the token to the site.
type JarMirror struct {
	jar  http.CookieJar
	site *url.URL
	name string
}

// NewJarMirror creates a JarMirror for site.
func NewJarMirror(jar http.CookieJar, site *url.URL, name string) *JarMirror {
	return &JarMirror{jar: jar, site: site, name: name}
}

func (m *JarMirror) Set(token string) {
	m.jar.SetCookies(m.site, []*http.Cookie{New(m.name, token, m.site.Scheme == "https")})
}

func (m *JarMirror) Clear() {
	m.jar.SetCookies(m.site, []*http.Cookie{Expired(m.name, m.site.Scheme == "https")})
}

// ResponseMirror mirrors by adding Set-Cookie headers to a response.
type ResponseMirror struct {
	w              http.ResponseWriter
	r              *http.Request
	name           string
	trustForwarded bool
	always         bool
}

// NewResponseMirror creates a ResponseMirror. When trustForwarded is set,
// X-Forwarded-Proto from a fronting proxy decides the Secure attribute.
func NewResponseMirror(w http.ResponseWriter, r *http.Request, name string, trustForwarded bool) *ResponseMirror {
	return &ResponseMirror{w: w, r: r, name: name, trustForwarded: trustForwarded}
}

// AlwaysSecure marks every cookie Secure regardless of the request.
func (m *ResponseMirror) AlwaysSecure() {
	m.always = true
}

func (m *ResponseMirror) Set(token string) {
	http.SetCookie(m.w, New(m.name, token, m.secure()))
}

func (m *ResponseMirror) Clear() {
	http.SetCookie(m.w, Expired(m.name, m.secure()))
}

func (m *ResponseMirror) secure() bool {
	return m.always || IsSecureRequest(m.r, m.trustForwarded)
}

// IsSecureRequest reports whether r arrived over TLS, directly or, when
// trustForwarded is set, at the proxy in front of us.
func IsSecureRequest(r *http.Request, trustForwarded bool) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if !trustForwarded {
		return false
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

var (
	_ Mirror = NoopMirror{}
	_ Mirror = (*JarMirror)(nil)
	_ Mirror = (*ResponseMirror)(nil)
)
