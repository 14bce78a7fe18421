package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ilmhub/tcm-api/internal/dto"
	"github.com/ilmhub/tcm-api/internal/middleware"
	"github.com/ilmhub/tcm-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func actorName(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.FullName
	}
	return ""
}

// bindToggleReason reads the optional reason body; an empty body is fine.
func bindToggleReason(c *gin.Context) *string {
	var req dto.SubjectToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil
	}
	return req.Reason
}
