package http

import (
	"net/http"
	"path"
	"strings"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateFiles registers files of a storage project. Files that already
// exist are returned as they are.
func CreateFiles(ctx *appcontext.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		type fileRequest struct {
			Pathname string `json:"pathname" binding:"required"`
			Size     int64  `json:"size"`
			Checksum string `json:"checksum"`
		}
		type createFilesRequest struct {
			StorageService string        `json:"storage_service" binding:"required"`
			Project        string        `json:"project"`
			Files          []fileRequest `json:"files" binding:"required,dive"`
		}

		var request createFilesRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			ctx.Logger.Debug("Failed to bind request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to bind request"})
			return
		}

		for _, f := range request.Files {
			if !strings.HasPrefix(f.Pathname, "/") || strings.HasSuffix(f.Pathname, "/") || path.Clean(f.Pathname) != f.Pathname {
				c.JSON(http.StatusBadRequest, gin.H{"pathname": "Invalid file path " + f.Pathname + "."})
				return
			}
		}

		var files []entity.File
		err := ctx.DB.Transaction(func(tx *gorm.DB) error {
			storage := entity.FileStorage{StorageService: request.StorageService, Project: request.Project}
			if err := tx.Where(map[string]interface{}{"storage_service": storage.StorageService, "project": storage.Project}).FirstOrCreate(&storage).Error; err != nil {
				return err
			}

			pathnames := make([]string, 0, len(request.Files))
			for _, f := range request.Files {
				file := entity.File{StorageID: storage.ID, Pathname: f.Pathname, Size: f.Size, Checksum: f.Checksum}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&file).Error; err != nil {
					return err
				}
				pathnames = append(pathnames, f.Pathname)
			}
			return tx.Where("storage_id = ? AND pathname IN ?", storage.ID, pathnames).Order("pathname").Find(&files).Error
		})
		if err != nil {
			ctx.Logger.Error("Failed to create files", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create files"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"files": files})
	}
}
