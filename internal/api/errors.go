package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/petervdpas/goopcall/internal/avatar"
	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/storage"
)

func statusFor(err error) int {
	var me *media.Error
	switch {
	case errors.Is(err, call.ErrNoSession), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, call.ErrCallActive), errors.Is(err, call.ErrBusy),
		errors.Is(err, call.ErrNotConnected), errors.Is(err, call.ErrInvalidState):
		return http.StatusConflict
	case errors.As(err, &me):
		return http.StatusUnprocessableEntity
	case errors.Is(err, avatar.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, avatar.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, call.ErrSignaling):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}
