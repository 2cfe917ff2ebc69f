package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/legacy"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UpsertMigratedDataset stores a V2 dataset payload and converts it. The
// response carries the migration errors, if any, with status 200 or 201.
func UpsertMigratedDataset(ctx *appcontext.Context, converter *legacy.Converter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.UserFromContext(c).Admin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only administrators can migrate datasets."})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			ctx.Logger.Error("Failed to read request body", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
			return
		}
		if !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"dataset_json": "Invalid JSON."})
			return
		}

		row, created, err := converter.Upsert(c.Request.Context(), json.RawMessage(body))
		if err != nil {
			respondError(ctx, c, "Failed to migrate dataset", err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, row)
	}
}
