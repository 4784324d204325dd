package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResultKey holds the Result in the gin context of authenticated requests.
const ResultKey = "auth_result"

// GinAuth rejects unauthenticated requests with 401. A nil Authenticator
// lets everything through.
func (a *Authenticator) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.Next()
			return
		}
		res, err := a.Authenticate(c.Request)
		if err != nil {
			c.Header("WWW-Authenticate", a.Challenge())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

// FromContext returns the Result stored by GinAuth.
func FromContext(c *gin.Context) (Result, bool) {
	v, ok := c.Get(ResultKey)
	if !ok {
		return Result{}, false
	}
	r, ok := v.(Result)
	return r, ok
}
