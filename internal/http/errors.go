package http

import (
	"net/http"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// respondError writes err with the status its class maps to. Only server
// errors are logged at error level.
func respondError(ctx *appcontext.Context, c *gin.Context, message string, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		ctx.Logger.Error(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		ctx.Logger.Debug(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, apperr.Body(err))
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Dataset " + c.Param("id") + " not found."})
		return uuid.Nil, false
	}
	return id, true
}
