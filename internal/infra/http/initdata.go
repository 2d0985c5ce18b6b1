package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// InitDataHeader задаёт заголовок, в котором WebApp передаёт initData.
const InitDataHeader = "X-Telegram-Init-Data"

const defaultInitDataMaxAge = 24 * time.Hour

var (
	errInitDataMissing = errors.New("init_data отсутствует")
	errInitDataInvalid = errors.New("подпись недействительна")
	errInitDataExpired = errors.New("init_data устарела")
	errAccessDenied    = errors.New("доступ запрещён")
)

// WebAppUser описывает пользователя из initData.
type WebAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type webAppUserKey struct{}

// UserFromContext возвращает пользователя, проверенного WebAppAuthMiddleware.
func UserFromContext(ctx context.Context) (WebAppUser, bool) {
	user, ok := ctx.Value(webAppUserKey{}).(WebAppUser)
	return user, ok
}

// WebAppAuthMiddleware проверяет initData по токену бота и пускает только операторов из белого списка.
func WebAppAuthMiddleware(botToken string, whitelist []int64) func(http.Handler) http.Handler {
	allowed := make(map[int64]struct{}, len(whitelist))
	for _, id := range whitelist {
		allowed[id] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.Header.Get(InitDataHeader)
			if initData == "" {
				initData = r.URL.Query().Get("init_data")
			}
			user, err := ValidateInitData(initData, botToken, time.Now(), defaultInitDataMaxAge)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err)
				return
			}
			if _, ok := allowed[user.ID]; !ok {
				WriteError(w, http.StatusForbidden, errAccessDenied)
				return
			}
			ctx := context.WithValue(r.Context(), webAppUserKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ValidateInitData проверяет подпись initData и возвращает пользователя.
func ValidateInitData(initData, botToken string, now time.Time, maxAge time.Duration) (WebAppUser, error) {
	if initData == "" {
		return WebAppUser{}, errInitDataMissing
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, errInitDataInvalid
	}
	expected, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(expected) == 0 {
		return WebAppUser{}, errInitDataInvalid
	}
	if !hmac.Equal(signInitData(values, botToken), expected) {
		return WebAppUser{}, errInitDataInvalid
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return WebAppUser{}, errInitDataInvalid
	}
	if maxAge > 0 && now.Sub(time.Unix(authDate, 0)) > maxAge {
		return WebAppUser{}, errInitDataExpired
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return WebAppUser{}, errInitDataInvalid
	}
	return user, nil
}

func signInitData(values url.Values, botToken string) []byte {
	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(pairs, "\n")))
	return h.Sum(nil)
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет ответ в JSON.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
