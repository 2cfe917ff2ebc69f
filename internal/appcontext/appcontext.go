package appcontext

import (
	"github.com/EarthModule/fairdata-metax-v3/internal/cache"
	"github.com/EarthModule/fairdata-metax-v3/internal/search"
	"github.com/EarthModule/fairdata-metax-v3/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Context struct {
	DB     *gorm.DB
	Logger *zap.Logger

	Cache  cache.Cache
	Search search.Indexer
	Mailer services.Mailer

	JWTKey []byte
	// BaseURL is the public address of the API, used in contact emails.
	BaseURL string
}
