package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/requestdata"
)

// IdentityMiddleware resolves the acting user. A bearer token signed with the
// shared secret carries the user id in the subject claim; without a token the
// configured default user applies (single-user local deployments).
type IdentityMiddleware struct {
	log           *logger.Logger
	jwtSecret     []byte
	defaultUserID uuid.UUID
}

func NewIdentityMiddleware(log *logger.Logger, jwtSecret string, defaultUserID uuid.UUID) *IdentityMiddleware {
	middlewareLog := log.With("middleware", "IdentityMiddleware")
	return &IdentityMiddleware{log: middlewareLog, jwtSecret: []byte(jwtSecret), defaultUserID: defaultUserID}
}

func (im *IdentityMiddleware) ResolveUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := im.resolve(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (im *IdentityMiddleware) resolve(c *gin.Context) (uuid.UUID, error) {
	tokenString := extractBearerToken(c)
	if tokenString == "" {
		if im.defaultUserID == uuid.Nil {
			return uuid.Nil, fmt.Errorf("missing bearer token")
		}
		return im.defaultUserID, nil
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return im.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("token has no subject")
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a user id")
	}
	return userID, nil
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
