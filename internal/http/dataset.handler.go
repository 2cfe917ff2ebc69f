package http

import (
	"net/http"
	"strconv"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/dataset"
	"github.com/EarthModule/fairdata-metax-v3/internal/history"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func GetDatasets(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := dataset.ListOptions{
			DataCatalog:    c.Query("data_catalog"),
			State:          c.Query("state"),
			IncludeRemoved: c.Query("include_removed") == "true",
		}
		opts.Limit, _ = strconv.Atoi(c.Query("limit"))
		opts.Offset, _ = strconv.Atoi(c.Query("offset"))

		results, count, err := datasets.List(c.Request.Context(), utils.UserFromContext(c), opts)
		if err != nil {
			respondError(ctx, c, "Failed to list datasets", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count, "results": results})
	}
}

func CreateDataset(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input dataset.Input
		if err := c.ShouldBindJSON(&input); err != nil {
			ctx.Logger.Debug("Failed to bind request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to bind request"})
			return
		}

		ds, err := datasets.Create(c.Request.Context(), utils.UserFromContext(c), input)
		if err != nil {
			respondError(ctx, c, "Failed to create dataset", err)
			return
		}

		c.JSON(http.StatusCreated, ds)
	}
}

func GetDataset(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		includeRemoved := c.Query("include_removed") == "true"
		ds, err := datasets.Get(c.Request.Context(), utils.UserFromContext(c), id, includeRemoved)
		if err != nil {
			respondError(ctx, c, "Failed to get dataset", err)
			return
		}

		c.JSON(http.StatusOK, ds)
	}
}

// UpdateDataset handles PUT and PATCH. PATCH leaves omitted fields as they
// are, PUT clears them.
func UpdateDataset(ctx *appcontext.Context, datasets *dataset.Service, partial bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		var input dataset.Input
		if err := c.ShouldBindJSON(&input); err != nil {
			ctx.Logger.Debug("Failed to bind request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to bind request"})
			return
		}

		ds, err := datasets.Update(c.Request.Context(), utils.UserFromContext(c), id, input, partial)
		if err != nil {
			respondError(ctx, c, "Failed to update dataset", err)
			return
		}

		c.JSON(http.StatusOK, ds)
	}
}

func DeleteDataset(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		flush := c.Query("flush") == "true"
		if err := datasets.Delete(c.Request.Context(), utils.UserFromContext(c), id, flush); err != nil {
			respondError(ctx, c, "Failed to delete dataset", err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func PublishDataset(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		ds, err := datasets.Publish(c.Request.Context(), utils.UserFromContext(c), id)
		if err != nil {
			respondError(ctx, c, "Failed to publish dataset", err)
			return
		}

		c.JSON(http.StatusOK, ds)
	}
}

func CreateDraft(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		draft, err := datasets.CreateDraft(c.Request.Context(), utils.UserFromContext(c), id)
		if err != nil {
			respondError(ctx, c, "Failed to create draft", err)
			return
		}

		c.JSON(http.StatusCreated, draft)
	}
}

func CreateNewVersion(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		version, err := datasets.CreateNewVersion(c.Request.Context(), utils.UserFromContext(c), id)
		if err != nil {
			respondError(ctx, c, "Failed to create new version", err)
			return
		}

		c.JSON(http.StatusCreated, version)
	}
}

func GetRevisions(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		publishedOnly := c.Query("published_only") == "true"
		draftOnly := c.Query("draft_only") == "true"
		filter := history.AllKinds
		switch {
		case publishedOnly && draftOnly:
			respondError(ctx, c, "Invalid revision filter",
				apperr.Field("published_only", "Cannot be combined with draft_only."))
			return
		case publishedOnly:
			filter = history.PublishedOnly
		case draftOnly:
			filter = history.DraftOnly
		}

		revisions, err := datasets.Revisions(c.Request.Context(), utils.UserFromContext(c), id, filter)
		if err != nil {
			respondError(ctx, c, "Failed to get revisions", err)
			return
		}

		c.JSON(http.StatusOK, revisions)
	}
}

func GetRevision(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		revision, err := datasets.Revision(c.Request.Context(), utils.UserFromContext(c), id, c.Param("name"))
		if err != nil {
			respondError(ctx, c, "Failed to get revision", err)
			return
		}

		c.JSON(http.StatusOK, revision)
	}
}

func GetContactRoles(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		roles, err := datasets.ContactRoles(c.Request.Context(), utils.UserFromContext(c), id)
		if err != nil {
			respondError(ctx, c, "Failed to get contact roles", err)
			return
		}

		c.JSON(http.StatusOK, roles)
	}
}

func ContactDataset(ctx *appcontext.Context, datasets *dataset.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		var msg dataset.ContactMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			ctx.Logger.Debug("Failed to bind request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to bind request"})
			return
		}

		count, err := datasets.Contact(c.Request.Context(), utils.UserFromContext(c), id, msg)
		if err != nil {
			respondError(ctx, c, "Failed to contact dataset actors", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"recipient_count": count})
	}
}
