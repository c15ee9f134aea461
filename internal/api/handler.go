package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"spot-trader/internal/events"
	"spot-trader/internal/monitor"
	"spot-trader/internal/trader"
	"spot-trader/pkg/config"
	"spot-trader/pkg/db"
	"spot-trader/pkg/exchanges/common"
)

// OrderLister reads the order journal.
type OrderLister interface {
	ListOrders(ctx context.Context, symbol string, limit int) ([]db.OrderRecord, error)
}

// WeightReporter exposes the venue request-weight budget.
type WeightReporter interface {
	WeightUsage() common.WeightUsage
}

// Factory builds a trader for a new asset.
type Factory func(cfg config.AssetConfig) (*trader.Trader, error)

// Options configure the control panel.
type Options struct {
	Scheduler *trader.Scheduler
	Factory   Factory
	Defaults  config.AssetConfig
	Known     func(string) bool // registered strategy names
	Orders    OrderLister       // optional
	Metrics   *monitor.Metrics  // optional
	Bus       *events.Bus       // optional
	Weight    WeightReporter    // optional
	Meta      SystemMeta

	JWTSecret   string // empty disables auth on mutating routes
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
	Timeout     time.Duration
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	DryRun  bool   `json:"dryRun"`
	Venue   string `json:"venue"`
	Version string `json:"version"`
}

// Server wires HTTP endpoints around the scheduler and the event bus.
type Server struct {
	Router *gin.Engine

	scheduler *trader.Scheduler
	factory   Factory
	tunables  *Tunables
	orders    OrderLister
	metrics   *monitor.Metrics
	bus       *events.Bus
	weight    WeightReporter
	meta      SystemMeta
	jwtSecret string
	log       *logrus.Entry
}

func NewServer(opts Options) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(opts.Metrics))
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RateLimit, opts.RateBurst)))
	r.Use(TimeoutMiddleware(opts.Timeout))
	r.Use(CORSMiddleware(opts.CORSOrigins))

	s := &Server{
		Router:    r,
		scheduler: opts.Scheduler,
		factory:   opts.Factory,
		tunables:  NewTunables(opts.Defaults, opts.Known, opts.Scheduler),
		orders:    opts.Orders,
		metrics:   opts.Metrics,
		bus:       opts.Bus,
		weight:    opts.Weight,
		meta:      opts.Meta,
		jwtSecret: opts.JWTSecret,
		log:       logrus.WithField("component", "api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/status", s.status)
	s.Router.GET("/orders", s.listOrders)
	s.Router.GET("/config", s.getConfig)
	s.Router.GET("/ws", s.websocket)
	if s.metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	mutating := s.Router.Group("")
	if s.jwtSecret != "" {
		mutating.Use(AuthMiddleware(s.jwtSecret))
	}
	{
		mutating.POST("/config", s.updateConfig)
		mutating.POST("/stocks", s.addStock)
		mutating.DELETE("/stocks", s.removeStock)
	}
}

// Tunables returns the control-panel defaults applied to new stocks.
func (s *Server) Tunables() *Tunables { return s.tunables }

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	body := gin.H{
		"meta":       s.meta,
		"serialized": s.scheduler.Serialized(),
		"traders":    s.scheduler.Symbols(),
		"reports":    s.scheduler.Status(),
	}
	if s.weight != nil {
		body["weight"] = s.weight.WeightUsage()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listOrders(c *gin.Context) {
	if s.orders == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	orders, err := s.orders.ListOrders(c.Request.Context(), symbol, limit)
	if err != nil {
		s.log.WithError(err).Error("list orders failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	if orders == nil {
		orders = []db.OrderRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
