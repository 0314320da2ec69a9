package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/rwandacancerrelief/notify-api/internal/middleware"
)

// Handler registers its routes on a group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimit rate.Limit
	RateBurst int
	CORS      middleware.CORSConfig
	Timeout   middleware.TimeoutConfig
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.ServiceAuthMiddleware
	notificationH Handler
	healthH       Handler
	config        Config
}

func NewRouter(
	auth *middleware.ServiceAuthMiddleware,
	notificationH Handler,
	healthH Handler,
	config Config,
) *Router {
	return &Router{
		engine:        gin.New(),
		auth:          auth,
		notificationH: notificationH,
		healthH:       healthH,
		config:        config,
	}
}

func (r *Router) Setup() {
	limiter := middleware.NewRateLimiter(r.config.RateLimit, r.config.RateBurst)

	r.engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.ErrorHandler(),
		middleware.CORS(r.config.CORS),
		middleware.Timeout(r.config.Timeout),
		limiter.RateLimit(),
	)

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.healthH.RegisterRoutes(&r.engine.RouterGroup)

	api := r.engine.Group("/api/v1")
	api.Use(r.auth.Authenticate())
	r.notificationH.RegisterRoutes(api)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
