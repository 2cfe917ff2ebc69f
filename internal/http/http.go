package http

import (
	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/dataset"
	"github.com/EarthModule/fairdata-metax-v3/internal/http/middleware"
	"github.com/EarthModule/fairdata-metax-v3/internal/legacy"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	Production     bool
	AllowedOrigins []string
}

type APIService struct {
	engine    *gin.Engine
	context   *appcontext.Context
	datasets  *dataset.Service
	converter *legacy.Converter
}

func NewHTTPService(ctx *appcontext.Context, opts Options) (*APIService, error) {
	datasets, err := dataset.NewService(ctx)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.LoggingMiddleware(ctx.Logger))
	engine.Use(middleware.CORSMiddleware(opts.Production, opts.AllowedOrigins))

	service := &APIService{
		engine:    engine,
		context:   ctx,
		datasets:  datasets,
		converter: legacy.NewConverter(datasets, ctx.Logger),
	}
	service.setupRoutes()
	return service, nil
}

func (h *APIService) Engine() *gin.Engine {
	return h.engine
}

// Datasets returns the dataset service the handlers share.
func (h *APIService) Datasets() *dataset.Service {
	return h.datasets
}

func (h *APIService) setupRoutes() {
	h.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v3 := h.engine.Group("/v3")
	h.setupCatalogRoutes(v3)
	h.setupOrganizationRoutes(v3)
	h.setupFileRoutes(v3)
	h.setupDatasetRoutes(v3)
	h.setupMigrationRoutes(v3)
}

func (h *APIService) auth() gin.HandlerFunc {
	return middleware.JWTAuthMiddleware(h.context.JWTKey)
}

func (h *APIService) setupCatalogRoutes(group *gin.RouterGroup) {
	catalogs := group.Group("/data-catalogs")

	catalogs.POST("", h.auth(), CreateDataCatalog(h.context))
	catalogs.GET("/:id", GetDataCatalog(h.context))
}

func (h *APIService) setupOrganizationRoutes(group *gin.RouterGroup) {
	organizations := group.Group("/organizations")

	organizations.POST("", h.auth(), CreateOrganization(h.context))
	organizations.GET("", GetOrganizations(h.context))
}

func (h *APIService) setupFileRoutes(group *gin.RouterGroup) {
	files := group.Group("/files")
	files.Use(h.auth())

	files.POST("", CreateFiles(h.context))
}

func (h *APIService) setupDatasetRoutes(group *gin.RouterGroup) {
	datasets := group.Group("/datasets")
	datasets.Use(middleware.OptionalJWTAuthMiddleware(h.context.JWTKey))

	datasets.GET("", GetDatasets(h.context, h.datasets))
	datasets.POST("", h.auth(), CreateDataset(h.context, h.datasets))
	datasets.GET("/search", SearchDatasets(h.context))
	datasets.GET("/:id", GetDataset(h.context, h.datasets))
	datasets.PUT("/:id", h.auth(), UpdateDataset(h.context, h.datasets, false))
	datasets.PATCH("/:id", h.auth(), UpdateDataset(h.context, h.datasets, true))
	datasets.DELETE("/:id", h.auth(), DeleteDataset(h.context, h.datasets))

	datasets.POST("/:id/publish", h.auth(), PublishDataset(h.context, h.datasets))
	datasets.POST("/:id/create-draft", h.auth(), CreateDraft(h.context, h.datasets))
	datasets.POST("/:id/new-version", h.auth(), CreateNewVersion(h.context, h.datasets))
	datasets.GET("/:id/revisions", GetRevisions(h.context, h.datasets))
	datasets.GET("/:id/revisions/:name", GetRevision(h.context, h.datasets))

	datasets.GET("/:id/contact", GetContactRoles(h.context, h.datasets))
	datasets.POST("/:id/contact", ContactDataset(h.context, h.datasets))
}

func (h *APIService) setupMigrationRoutes(group *gin.RouterGroup) {
	migrated := group.Group("/migrated-datasets")
	migrated.Use(h.auth())

	migrated.POST("", UpsertMigratedDataset(h.context, h.converter))
}
