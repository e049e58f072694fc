package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/everbloomhq/exchange/internal/custody"
	"github.com/everbloomhq/exchange/pkg/models"
)

func (s *Server) handleStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	orders, err := toOrders(req.Orders)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	infos, err := s.engine.DeriveStatusBatch(c.Request.Context(), orders)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]StatusResponse, len(infos))
	for i, info := range infos {
		out[i] = statusResponse(info)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) handleFill(c *gin.Context) {
	var req FillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	order, err := req.Order.ToOrder()
	if err != nil {
		s.badRequest(c, err)
		return
	}
	taker, err := parseAddress(req.Taker, "taker")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	amount, err := parseAmount(req.TakerAmount, "taker_amount")
	if err != nil {
		s.badRequest(c, err)
		return
	}

	var res models.FillResults
	if req.NoThrow {
		res, err = s.engine.FillNoThrow(c.Request.Context(), order, taker, amount, req.AllowPartial)
	} else {
		res, err = s.engine.Fill(c.Request.Context(), order, taker, amount, req.AllowPartial)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fillResponse(res))
}

func (s *Server) handleCancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	order, err := req.Order.ToOrder()
	if err != nil {
		s.badRequest(c, err)
		return
	}
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.engine.Cancel(c.Request.Context(), order, caller); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) handleMatch(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	left, err := req.Left.ToOrder()
	if err != nil {
		s.badRequest(c, err)
		return
	}
	right, err := req.Right.ToOrder()
	if err != nil {
		s.badRequest(c, err)
		return
	}
	receiver, err := parseAddress(req.SpreadReceiver, "spread_receiver")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.engine.Match(c.Request.Context(), left, right, receiver)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"left":   fillResponse(res.Left),
		"right":  fillResponse(res.Right),
		"spread": res.Spread.String(),
	})
}

func (s *Server) handleMarketSell(c *gin.Context) {
	s.handleMarket(c, true)
}

func (s *Server) handleMarketBuy(c *gin.Context) {
	s.handleMarket(c, false)
}

func (s *Server) handleMarket(c *gin.Context, sell bool) {
	var req MarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	orders, err := toOrders(req.Orders)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	taker, err := parseAddress(req.Taker, "taker")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		s.badRequest(c, err)
		return
	}

	var res models.FillResults
	if sell {
		res, err = s.engine.MarketSell(c.Request.Context(), orders, taker, amount)
	} else {
		res, err = s.engine.MarketBuy(c.Request.Context(), orders, taker, amount)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fillResponse(res))
}

func (s *Server) custodyService(c *gin.Context) (*custody.Service, bool) {
	addr, err := parseAddress(c.Param("service"), "service")
	if err != nil {
		s.badRequest(c, err)
		return nil, false
	}
	raw, ok := s.custodies.Lookup(addr)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown custody service"}})
		return nil, false
	}
	svc, ok := raw.(*custody.Service)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "custody service has no HTTP surface"}})
		return nil, false
	}
	return svc, true
}

func (s *Server) handleBalance(c *gin.Context) {
	svc, ok := s.custodyService(c)
	if !ok {
		return
	}
	asset, err := parseAddress(c.Query("asset"), "asset")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	owner, err := parseAddress(c.Query("owner"), "owner")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	bal, err := svc.BalanceOf(c.Request.Context(), asset, owner)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal.String()})
}

func (s *Server) handleAvailable(c *gin.Context) {
	svc, ok := s.custodyService(c)
	if !ok {
		return
	}
	asset, err := parseAddress(c.Query("asset"), "asset")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	owner, err := parseAddress(c.Query("owner"), "owner")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	data, err := parseHexData(c.Query("data"), "data")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	avail, err := svc.Available(c.Request.Context(), asset, owner, data)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": avail.String()})
}

func (s *Server) handleDeposit(c *gin.Context) {
	s.handleMoveFunds(c, true)
}

func (s *Server) handleWithdraw(c *gin.Context) {
	s.handleMoveFunds(c, false)
}

func (s *Server) handleMoveFunds(c *gin.Context, deposit bool) {
	svc, ok := s.custodyService(c)
	if !ok {
		return
	}
	var req MoveFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	asset, err := parseAddress(req.Asset, "asset")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	owner, err := parseAddress(req.Owner, "owner")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	data, err := parseHexData(req.Data, "data")
	if err != nil {
		s.badRequest(c, err)
		return
	}

	if deposit {
		err = svc.Deposit(c.Request.Context(), asset, owner, amount, data)
	} else {
		err = svc.Withdraw(c.Request.Context(), asset, owner, amount, data)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleSetFeeSchedule(c *gin.Context) {
	var req FeeScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	reseller, err := parseOptionalAddress(req.Reseller, "reseller")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var sched models.FeeSchedule
	if sched.MakerExchange, err = parseRate(req.MakerExchange, "maker_exchange"); err != nil {
		s.badRequest(c, err)
		return
	}
	if sched.MakerReseller, err = parseRate(req.MakerReseller, "maker_reseller"); err != nil {
		s.badRequest(c, err)
		return
	}
	if sched.TakerExchange, err = parseRate(req.TakerExchange, "taker_exchange"); err != nil {
		s.badRequest(c, err)
		return
	}
	if sched.TakerReseller, err = parseRate(req.TakerReseller, "taker_reseller"); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.fees.SetSchedule(reseller, sched); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleSetFeeAccount(c *gin.Context) {
	var req FeeAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	addr, err := parseAddress(req.Address, "address")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	s.fees.SetFeeAccount(addr)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleWhitelist(c *gin.Context) {
	var req WhitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	addr, err := parseAddress(req.Address, "address")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	switch req.Kind {
	case "custody":
		s.registry.SetCustodyService(addr, req.Member)
	case "fee_exempt":
		s.registry.SetFeeExempt(addr, req.Member)
	case "reseller":
		s.registry.SetReseller(addr, req.Member)
	case "verifier":
		s.registry.SetVerifier(addr, req.Member)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func toOrders(payloads []OrderPayload) ([]*models.Order, error) {
	orders := make([]*models.Order, len(payloads))
	for i := range payloads {
		o, err := payloads[i].ToOrder()
		if err != nil {
			return nil, err
		}
		orders[i] = o
	}
	return orders, nil
}
