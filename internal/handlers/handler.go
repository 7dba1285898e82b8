package handlers

import (
	"net/http"

	"disclosure-cache-api/internal/auth"
	"disclosure-cache-api/internal/cache"
	"disclosure-cache-api/internal/logging"
	"disclosure-cache-api/internal/realtime"
	"disclosure-cache-api/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InvalidationRecorder counts invalidation requests by action.
type InvalidationRecorder interface {
	Invalidation(action string, affected int)
}

// Deps are the process-wide collaborators shared by every handler.
type Deps struct {
	DB      *gorm.DB
	Issuer  *auth.Issuer
	Cache   *cache.Store[any]
	Storage *storage.Optimizer
	Hub     *realtime.Hub
	Metrics InvalidationRecorder // optional
	Logger  *zap.Logger
}

// Handler serves the HTTP API over one cache store.
type Handler struct {
	db      *gorm.DB
	issuer  *auth.Issuer
	cache   *cache.Store[any]
	storage *storage.Optimizer
	hub     *realtime.Hub
	metrics InvalidationRecorder
	log     *zap.Logger
}

// New builds a Handler from deps.
func New(deps Deps) *Handler {
	h := &Handler{
		db:      deps.DB,
		issuer:  deps.Issuer,
		cache:   deps.Cache,
		storage: deps.Storage,
		hub:     deps.Hub,
		metrics: deps.Metrics,
		log:     logging.OrNop(deps.Logger).Named("http"),
	}
	if h.hub == nil {
		h.hub = realtime.NewHub(h.log)
	}
	return h
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}

func internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   msg,
	})
}
