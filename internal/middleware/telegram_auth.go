package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// WebAppUser is the user object embedded in Telegram WebApp initData.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// AdminAuth guards the admin HTTP routes. It accepts either BasicAuth
// with the configured password or a signed Telegram WebApp initData
// blob belonging to a configured admin.
type AdminAuth struct {
	BotToken      string
	AdminIDs      []string
	AdminPassword string
	Log           zerolog.Logger
}

func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.basicAuthOK(r) {
			next.ServeHTTP(w, r)
			return
		}

		if initData := extractInitData(r); initData != "" {
			user, valid := a.ValidateInitData(initData)
			if valid && a.isAdmin(user.ID) {
				a.Log.Debug().Int64("user", user.ID).Msg("admin authenticated via initData")
				next.ServeHTTP(w, r)
				return
			}
			if valid {
				a.Log.Warn().Int64("user", user.ID).Msg("initData valid but user is not an admin")
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="Bot Admin"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func extractInitData(r *http.Request) string {
	if v := r.Header.Get("X-Telegram-Init-Data"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("tg_init_data"); v != "" {
		return v
	}
	if cookie, err := r.Cookie("tg_init_data"); err == nil {
		if decoded, err := url.QueryUnescape(cookie.Value); err == nil {
			return decoded
		}
	}
	return ""
}

func (a *AdminAuth) basicAuthOK(r *http.Request) bool {
	if a.AdminPassword == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}
	payload, err := base64.StdEncoding.DecodeString(auth[6:])
	if err != nil {
		return false
	}
	pair := strings.SplitN(string(payload), ":", 2)
	if len(pair) != 2 || pair[0] != "admin" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pair[1]), []byte(a.AdminPassword)) == 1
}

// ValidateInitData checks the WebApp signature: the data-check-string
// is every field but hash, sorted, newline-joined, signed with
// HMAC-SHA256 keyed by HMAC-SHA256("WebAppData", botToken).
func (a *AdminAuth) ValidateInitData(initData string) (*WebAppUser, bool) {
	if a.BotToken == "" {
		return nil, false
	}
	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil, false
	}
	hash := params.Get("hash")
	if hash == "" {
		return nil, false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(a.BotToken))

	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(parts, "\n")))
	if hex.EncodeToString(h.Sum(nil)) != hash {
		return nil, false
	}

	userJSON := params.Get("user")
	if userJSON == "" {
		return nil, false
	}
	var user WebAppUser
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, false
	}
	return &user, true
}

func (a *AdminAuth) isAdmin(userID int64) bool {
	for _, id := range a.AdminIDs {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil && parsed == userID {
			return true
		}
	}
	return false
}
