package middleware

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	ssrCookiePrefix = "sb-"
	ssrCookieSuffix = "-auth-token"
	base64Prefix    = "base64-"
)

// cookieToken returns the access token from the configured cookie or, when
// that is absent, from a Supabase SSR session cookie (sb-<ref>-auth-token,
// possibly split into .0, .1, ... chunks).
func (a *Authenticator) cookieToken(r *http.Request) string {
	if cookie, err := r.Cookie(a.cookieName); err == nil && cookie.Value != "" {
		if token, ok := sessionAccessToken(cookie.Value); ok {
			return token
		}
		return cookie.Value
	}

	value := ssrSessionValue(r.Cookies())
	if value == "" {
		return ""
	}
	token, _ := sessionAccessToken(value)
	return token
}

// ssrSessionValue reassembles the first sb-<ref>-auth-token cookie found
func ssrSessionValue(cookies []*http.Cookie) string {
	chunks := map[string]map[int]string{}
	var names []string

	for _, c := range cookies {
		if !strings.HasPrefix(c.Name, ssrCookiePrefix) {
			continue
		}
		base, index := c.Name, -1
		if dot := strings.LastIndexByte(c.Name, '.'); dot > 0 {
			n, err := strconv.Atoi(c.Name[dot+1:])
			if err != nil || n < 0 {
				continue
			}
			base, index = c.Name[:dot], n
		}
		if !strings.HasSuffix(base, ssrCookieSuffix) || len(base) <= len(ssrCookiePrefix)+len(ssrCookieSuffix) {
			continue
		}
		if _, ok := chunks[base]; !ok {
			chunks[base] = map[int]string{}
			names = append(names, base)
		}
		chunks[base][index] = c.Value
	}
	if len(names) == 0 {
		return ""
	}

	sort.Strings(names)
	parts := chunks[names[0]]
	if whole, ok := parts[-1]; ok {
		return whole
	}
	var b strings.Builder
	for i := 0; ; i++ {
		part, ok := parts[i]
		if !ok {
			break
		}
		b.WriteString(part)
	}
	return b.String()
}

// sessionAccessToken decodes a serialized Supabase session. It accepts the
// base64- prefixed form, plain or URL-escaped JSON objects, and the legacy
// array form whose first element is the access token.
func sessionAccessToken(value string) (string, bool) {
	raw := value
	if strings.HasPrefix(raw, base64Prefix) {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw[len(base64Prefix):], "="))
		if err != nil {
			return "", false
		}
		raw = string(decoded)
	} else if strings.HasPrefix(raw, "%") {
		unescaped, err := url.QueryUnescape(raw)
		if err != nil {
			return "", false
		}
		raw = unescaped
	}

	switch {
	case strings.HasPrefix(raw, "{"):
		var session struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal([]byte(raw), &session); err != nil || session.AccessToken == "" {
			return "", false
		}
		return session.AccessToken, true
	case strings.HasPrefix(raw, "["):
		var legacy []interface{}
		if err := json.Unmarshal([]byte(raw), &legacy); err != nil || len(legacy) == 0 {
			return "", false
		}
		token, ok := legacy[0].(string)
		return token, ok && token != ""
	}
	return "", false
}
