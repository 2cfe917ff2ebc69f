package http

import (
	"errors"
	"net/http"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func CreateDataCatalog(ctx *appcontext.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		type createCatalogRequest struct {
			ID                       string            `json:"id" binding:"required"`
			Title                    map[string]string `json:"title" binding:"required"`
			DatasetVersioningEnabled bool              `json:"dataset_versioning_enabled"`
			Harvested                bool              `json:"harvested"`
		}

		if !utils.UserFromContext(c).Admin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only administrators can create data catalogs."})
			return
		}

		var request createCatalogRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			ctx.Logger.Debug("Failed to bind request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to bind request"})
			return
		}

		title := datatypes.JSONMap{}
		for lang, value := range request.Title {
			title[lang] = value
		}
		catalog := entity.DataCatalog{
			ID:                       request.ID,
			Title:                    title,
			DatasetVersioningEnabled: request.DatasetVersioningEnabled,
			Harvested:                request.Harvested,
		}

		var existing int64
		if err := ctx.DB.Unscoped().Model(&entity.DataCatalog{}).Where("id = ?", catalog.ID).Count(&existing).Error; err != nil {
			ctx.Logger.Error("Failed to check data catalog", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check data catalog"})
			return
		}
		if existing > 0 {
			c.JSON(http.StatusConflict, gin.H{"id": "Data catalog " + catalog.ID + " already exists."})
			return
		}

		if err := ctx.DB.Create(&catalog).Error; err != nil {
			ctx.Logger.Error("Failed to create data catalog", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create data catalog"})
			return
		}

		c.JSON(http.StatusCreated, catalog)
	}
}

func GetDataCatalog(ctx *appcontext.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		var catalog entity.DataCatalog
		err := ctx.DB.Where("id = ?", c.Param("id")).First(&catalog).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Data catalog " + c.Param("id") + " not found."})
			return
		}
		if err != nil {
			ctx.Logger.Error("Failed to get data catalog", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get data catalog"})
			return
		}

		c.JSON(http.StatusOK, catalog)
	}
}
