package httpapi

import (
	"net/http"
	"time"

	"shopfront.io/internal/token"
)

type cookieSettings struct {
	refreshName string
	refreshPath string
	accessName  string
	secure      bool
	refreshAge  time.Duration
	accessAge   time.Duration
}

func newCookieSettings(opts Options, tokens *token.Service) cookieSettings {
	c := cookieSettings{
		refreshName: opts.RefreshCookieName,
		refreshPath: opts.RefreshCookiePath,
		accessName:  opts.AccessCookieName,
		secure:      opts.Production,
		refreshAge:  tokens.RefreshTTL(),
		accessAge:   tokens.AccessTTL(),
	}
	if c.refreshName == "" {
		c.refreshName = "refresh_token"
	}
	if c.refreshPath == "" {
		c.refreshPath = "/auth"
	}
	if c.accessName == "" {
		c.accessName = "access_token"
	}
	return c
}

func (c cookieSettings) setSession(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.accessName,
		Value:    access,
		Path:     "/",
		MaxAge:   int(c.accessAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     c.refreshName,
		Value:    refresh,
		Path:     c.refreshPath,
		MaxAge:   int(c.refreshAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c cookieSettings) clear(w http.ResponseWriter) {
	for _, ck := range []struct{ name, path string }{
		{c.accessName, "/"},
		{c.refreshName, c.refreshPath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     ck.name,
			Value:    "",
			Path:     ck.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (c cookieSettings) refreshToken(r *http.Request) string {
	ck, err := r.Cookie(c.refreshName)
	if err != nil {
		return ""
	}
	return ck.Value
}
