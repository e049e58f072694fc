// Package api exposes the settlement engine and custody services over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/everbloomhq/exchange/internal/custody"
	"github.com/everbloomhq/exchange/internal/fees"
	"github.com/everbloomhq/exchange/internal/registry"
	"github.com/everbloomhq/exchange/internal/settlement"
	"github.com/everbloomhq/exchange/pkg/errors"
)

// Server wires the engine and its collaborators into a gin router.
type Server struct {
	engine    *settlement.Engine
	custodies *custody.Directory
	registry  *registry.Registry
	fees      *fees.Service
	logger    *zap.Logger
}

func NewServer(
	engine *settlement.Engine,
	custodies *custody.Directory,
	reg *registry.Registry,
	feeSvc *fees.Service,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:    engine,
		custodies: custodies,
		registry:  reg,
		fees:      feeSvc,
		logger:    logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		orders.POST("/status", s.handleStatus)
		orders.POST("/fill", s.handleFill)
		orders.POST("/cancel", s.handleCancel)
		orders.POST("/match", s.handleMatch)
		orders.POST("/market-sell", s.handleMarketSell)
		orders.POST("/market-buy", s.handleMarketBuy)

		cust := v1.Group("/custody/:service")
		cust.GET("/balance", s.handleBalance)
		cust.GET("/available", s.handleAvailable)
		cust.POST("/deposit", s.handleDeposit)
		cust.POST("/withdraw", s.handleWithdraw)

		admin := v1.Group("/admin")
		admin.POST("/fees/schedule", s.handleSetFeeSchedule)
		admin.POST("/fees/account", s.handleSetFeeAccount)
		admin.POST("/whitelist", s.handleWhitelist)
	}
	return r
}

// fail maps an error category to an HTTP status and renders the error body.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.CategoryOf(err) {
	case errors.CategoryEligibility, errors.CategoryInsufficientRemaining:
		status = http.StatusConflict
	case errors.CategoryAuthorization:
		status = http.StatusForbidden
	case errors.CategoryArithmetic, errors.CategoryConfiguration:
		status = http.StatusUnprocessableEntity
	}

	var e *errors.Error
	if errors.As(err, &e) {
		c.JSON(status, gin.H{"error": e})
		return
	}
	c.JSON(status, gin.H{"error": gin.H{"category": errors.CategoryInternal, "message": err.Error()}})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"category": "request", "message": err.Error()}})
}
