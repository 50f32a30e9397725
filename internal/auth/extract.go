package auth

import (
	"net/http"
	"strings"

	"github.com/yatagarasu/yatagarasu/internal/config"
)

// ExtractToken tries each configured source in order and returns the first
// token found. Per spec §4.2, "missing" means no source yielded anything,
// not that a later source might also have failed.
func ExtractToken(r *http.Request, sources []config.TokenSourceConfig) (string, bool) {
	for _, src := range sources {
		switch src.Kind {
		case "bearer":
			if tok, ok := fromBearer(r.Header); ok {
				return tok, true
			}
		case "header":
			if tok, ok := fromHeader(r.Header, src.Name, src.Prefix); ok {
				return tok, true
			}
		case "query":
			if tok := r.URL.Query().Get(src.Name); tok != "" {
				return tok, true
			}
		}
	}
	return "", false
}

func fromBearer(h http.Header) (string, bool) {
	v := h.Get("Authorization")
	if v == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(v, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(v, prefix))
	if tok == "" {
		return "", false
	}
	return tok, true
}

func fromHeader(h http.Header, name, prefix string) (string, bool) {
	v := h.Get(name)
	if v == "" {
		return "", false
	}
	if prefix != "" {
		if !strings.HasPrefix(v, prefix) {
			return "", false
		}
		v = strings.TrimPrefix(v, prefix)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}
