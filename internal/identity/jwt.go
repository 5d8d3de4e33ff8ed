package identity

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// BearerSubjectKeyFunc keys requests by the subject of a valid HS256 bearer token.
// Requests without a valid token yield "" so the resolver falls back to the caller's address.
func BearerSubjectKeyFunc(secret string) KeyFunc {
	key := []byte(secret)

	return func(r *http.Request) string {
		if len(key) == 0 {
			return ""
		}

		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}

		token, err := jwt.ParseWithClaims(parts[1], &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return ""
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			return ""
		}

		return "user:" + subject
	}
}
