package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/arash/imagina/internal/domain"
	"github.com/arash/imagina/internal/logger"
	"github.com/arash/imagina/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const (
	businessKey = "business"
	userIDKey   = "user_id"
)

// Tenant resolves the request hostname to a Business record and aborts with
// 404 when no tenant is registered for it.
func Tenant(businesses *repository.BusinessRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		host := c.Request.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}

		business, err := businesses.GetByDomain(c.Request.Context(), host)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
					"error": "business not found",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "failed to resolve business",
			})
			return
		}

		ctx := logger.SetBusinessID(c.Request.Context(), business.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(businessKey, business)
		c.Next()
	}
}

// Auth verifies the caller's JWT against the resolved business's secret and
// stores the acting user id. The business owner may act on behalf of another
// user by passing a user_id query parameter; everyone else acts as
// themselves. Requires Tenant to have run first.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		business := BusinessFrom(c)
		if business == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "business not resolved",
			})
			return
		}

		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing access token",
			})
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(business.JWTSecret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid access token",
			})
			return
		}

		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid access token subject",
			})
			return
		}

		userID := subject
		if subject == business.OwnerUserID {
			if impersonated := c.Query("user_id"); impersonated != "" {
				userID = impersonated
			}
		}

		ctx := logger.WithField(c.Request.Context(), logger.FieldUserID, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// extractToken pulls the JWT from the Authorization header or the
// access_token cookie.
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie("access_token"); err == nil {
		return cookie
	}
	return ""
}

// BusinessFrom returns the business resolved by Tenant, or nil.
func BusinessFrom(c *gin.Context) *domain.Business {
	if v, ok := c.Get(businessKey); ok {
		if business, ok := v.(*domain.Business); ok {
			return business
		}
	}
	return nil
}

// UserIDFrom returns the acting user id set by Auth.
func UserIDFrom(c *gin.Context) string {
	return c.GetString(userIDKey)
}
