package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/middleware"
)

// actorFromContext describes the admin behind the request for audit entries.
func actorFromContext(c *gin.Context) dto.ActorInfo {
	actor := dto.ActorInfo{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	if claims := middleware.CurrentClaims(c); claims != nil {
		actor.UserID = claims.UserID
	}
	return actor
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return value
}

func queryBool(c *gin.Context, key string) *bool {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}
