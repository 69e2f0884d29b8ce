package adminapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/okta/okta-jwt-verifier-golang"
)

// authMiddleware builds a bearer-token verification middleware over Okta access tokens. Used
// only when Configuration.AdminAPIAuthEnabled is set; by default the admin routes are
// unguarded, matching the embedded/library use case.
func authMiddleware(issuer, audience string) gin.HandlerFunc {
	verifier := jwtverifier.JwtVerifier{
		Issuer:           issuer,
		ClaimsToValidate: map[string]string{"aud": audience},
	}
	toValidate := verifier.New()

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if _, err := toValidate.VerifyAccessToken(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access token: " + err.Error()})
			return
		}
		c.Next()
	}
}
