package security

import (
	"context"
	"net/http"
	"strings"

	"github.com/avaropoint/viewport/internal/store"
)

type ctxKey int

const authKeyName ctxKey = iota

// RequireAPIKey gates a route group behind API key auth. Keys arrive
// as "Authorization: Bearer vpk_..." or, for clients that cannot set
// headers, an api_key query parameter.
func RequireAPIKey(st store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := requestKey(r)
			if raw == "" {
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}
			rec, err := st.VerifyAPIKey(r.Context(), HashAPIKey(raw))
			if err != nil || rec == nil {
				http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), authKeyName, rec.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthKeyName reports which API key authenticated the request, for
// audit logging. Empty on routes reachable without a key.
func AuthKeyName(ctx context.Context) string {
	name, _ := ctx.Value(authKeyName).(string)
	return name
}

func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("api_key")
}
