package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ericjohney/photobrain-sub000/internal/api/handler"
	"github.com/ericjohney/photobrain-sub000/internal/api/middleware"
	"github.com/ericjohney/photobrain-sub000/internal/config"
	"github.com/ericjohney/photobrain-sub000/internal/queue"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
	"github.com/ericjohney/photobrain-sub000/internal/service"
	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

// Deps bundles everything the router needs.
type Deps struct {
	Config   *config.Config
	Photos   *repository.PhotoRepository
	Pipeline *service.Pipeline
	Search   *service.SearchService
	Broker   *queue.Broker
	Store    storage.ObjectStorage
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps) *gin.Engine {
	switch deps.Config.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  deps.Config.Server.CORS.AllowedOrigins,
		AllowAllOrigins: deps.Config.Server.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler()
	photoHandler := handler.NewPhotoHandler(
		deps.Photos,
		deps.Pipeline,
		deps.Store,
		deps.Config.Library.Root,
		deps.Config.Thumbnails.Prefix,
	)
	searchHandler := handler.NewSearchHandler(deps.Search)
	jobHandler := handler.NewJobHandler(deps.Pipeline, deps.Broker)
	eventHandler := handler.NewEventHandler(deps.Broker.Bus())

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/scans", jobHandler.StartScan)
		v1.GET("/jobs/counts", jobHandler.Counts)
		v1.GET("/events", eventHandler.Stream)

		v1.POST("/search", searchHandler.TextSearch)

		v1.GET("/photos", photoHandler.List)
		v1.GET("/photos/:id", photoHandler.Get)
		v1.GET("/photos/:id/thumbnail/:size", photoHandler.Thumbnail)
		v1.GET("/photos/:id/file", photoHandler.File)
		v1.POST("/photos/:id/embedding", photoHandler.QueueEmbedding)
		v1.POST("/photos/:id/phash", photoHandler.QueuePhash)
	}

	return r
}
