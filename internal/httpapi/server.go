// Package httpapi exposes the scheduling engine over HTTP.
//
// Authentication and authorization are handled by a collaborator in front of
// this service; the acting user arrives in the X-User-Id header. Errors are
// returned as {"error": msg, "kind": kind} with the kind mapped to a status
// code.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"schedhub/internal/activity"
	"schedhub/internal/docs"
	"schedhub/internal/plan"
	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

type Config struct {
	Listen         string
	RateLimitRPS   int
	RateLimitBurst int
}

type Server struct {
	cfg Config
	log logx.Logger

	store      storage.Store
	plans      *plan.Service
	expander   *activity.Expander
	lifecycle  *activity.Controller
	docs       *docs.Service

	limiter *rate.Limiter
	engine  *gin.Engine
}

func New(cfg Config, store storage.Store, plans *plan.Service, expander *activity.Expander,
	lifecycle *activity.Controller, docSvc *docs.Service, log logx.Logger) *Server {

	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		store:     store,
		plans:     plans,
		expander:  expander,
		lifecycle: lifecycle,
		docs:      docSvc,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = cfg.RateLimitRPS
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), s.requestLog(), s.rateLimit())

	e.GET("/healthz", s.healthz)
	e.GET("/readyz", s.readyz)

	v1 := e.Group("/v1")
	{
		v1.GET("/activities", s.getActivities)
		v1.GET("/activities/:guid", s.getActivity)
		v1.POST("/activities", s.updateActivities)
		v1.DELETE("/activities", s.deleteActivities)

		v1.POST("/scheduleplans", s.createPlan)
		v1.GET("/scheduleplans", s.listPlans)
		v1.DELETE("/scheduleplans/:guid", s.deletePlan)

		v1.POST("/documentation", s.putDoc)
		v1.GET("/documentation", s.listDocs)
		v1.GET("/documentation/:identifier", s.getDoc)
		v1.DELETE("/documentation", s.deleteDocsForParent)
		v1.DELETE("/documentation/:identifier", s.deleteDoc)
	}

	s.engine = e
	return s
}

// Router exposes the handler for http.Server and tests.
func (s *Server) Router() http.Handler { return s.engine }

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	if _, err := s.store.Stats(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ready": false, "error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
