// Package handler holds the gin handlers of the AI routes.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hoa-nexus-rag/internal/middleware"
	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/repository"
	"hoa-nexus-rag/internal/service"
	"hoa-nexus-rag/pkg/apperr"
	"hoa-nexus-rag/pkg/log"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// failErr maps service errors onto HTTP statuses.
func failErr(c *gin.Context, tag string, err error) {
	switch {
	case errors.Is(err, repository.ErrFileNotFound), errors.Is(err, repository.ErrRunNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAsyncUnavailable):
		fail(c, http.StatusNotImplemented, err.Error())
	case errors.Is(err, apperr.Validation):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.Embedding):
		log.Errorf("[%s] %v", tag, err)
		fail(c, http.StatusBadGateway, "embedding provider unavailable")
	default:
		log.Errorf("[%s] %v", tag, err)
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

// callerScope restricts a requested scope to the caller's community. Admins
// and staff without a community may query any community.
func callerScope(c *gin.Context, requested model.Scope) model.Scope {
	claims := middleware.Claims(c)
	if claims == nil || claims.IsAdmin() || claims.CommunityID == nil {
		return requested
	}
	community := *claims.CommunityID
	requested.CommunityID = &community
	return requested
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
