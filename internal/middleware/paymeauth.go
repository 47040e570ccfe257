package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// PaymeBasicAuth verifies the Basic credentials Payme signs its webhook
// calls with (login "Paycom", password is the merchant key). Payme expects
// HTTP 200 with a JSON-RPC error object on rejection, not a 401.
//
// An empty merchantKey disables the check, which is only acceptable in
// development; config validation refuses it in production.
func PaymeBasicAuth(merchantKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if merchantKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte("Paycom")) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(merchantKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    -32504,
						"message": "Unauthorized",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
