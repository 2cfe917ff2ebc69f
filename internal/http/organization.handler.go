package http

import (
	"errors"
	"net/http"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func CreateOrganization(ctx *appcontext.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		type createOrganizationRequest struct {
			URL                string            `json:"url"`
			Code               string            `json:"code"`
			InScheme           string            `json:"in_scheme"`
			PrefLabel          map[string]string `json:"pref_label" binding:"required"`
			Homepage           string            `json:"homepage"`
			Email              string            `json:"email"`
			ExternalIdentifier string            `json:"external_identifier"`
			ParentID           *uuid.UUID        `json:"parent_id"`
			IsReferenceData    bool              `json:"is_reference_data"`
		}

		var request createOrganizationRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			ctx.Logger.Debug("Failed to bind request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to bind request"})
			return
		}

		if request.IsReferenceData && !utils.UserFromContext(c).Admin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only administrators can create reference organizations."})
			return
		}

		if request.ParentID != nil {
			err := ctx.DB.First(&entity.Organization{}, "id = ?", *request.ParentID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"parent_id": "Organization not found."})
				return
			}
			if err != nil {
				ctx.Logger.Error("Failed to get parent organization", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get parent organization"})
				return
			}
		}

		label := datatypes.JSONMap{}
		for lang, value := range request.PrefLabel {
			label[lang] = value
		}
		org := entity.Organization{
			URL:                request.URL,
			Code:               request.Code,
			InScheme:           request.InScheme,
			PrefLabel:          label,
			Homepage:           request.Homepage,
			Email:              request.Email,
			ExternalIdentifier: request.ExternalIdentifier,
			ParentID:           request.ParentID,
			ReferenceData:      request.IsReferenceData,
		}

		if err := ctx.DB.Create(&org).Error; err != nil {
			ctx.Logger.Error("Failed to create organization", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create organization"})
			return
		}

		c.JSON(http.StatusCreated, org)
	}
}

// GetOrganizations lists reference organizations, or all organizations with
// ?reference=false.
func GetOrganizations(ctx *appcontext.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := ctx.DB.Preload("Parent").Order("created_at, id")
		if c.Query("reference") != "false" {
			q = q.Where("is_reference_data = ?", true)
		}
		if url := c.Query("url"); url != "" {
			q = q.Where("url = ?", url)
		}

		var orgs []entity.Organization
		if err := q.Find(&orgs).Error; err != nil {
			ctx.Logger.Error("Failed to get organizations", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get organizations"})
			return
		}

		c.JSON(http.StatusOK, orgs)
	}
}
