package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	redisAdapter "gavel/adapters/redis"
	"gavel/auction"
	"gavel/ledger"
	"gavel/models"
)

// respondError 把帳本的錯誤翻譯成對應的HTTP回應。
// 和出價相關的拒絕會盡量帶上商品目前的價格和狀態
func (impl *ServerImpl) respondError(c *gin.Context, listingID uuid.UUID, err error) {
	response := ErrorResponse{Message: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, auction.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auction.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, auction.ErrListingNotOpen):
		status = http.StatusForbidden
	case errors.Is(err, auction.ErrBidTooLow):
		status = http.StatusConflict
	case errors.Is(err, auction.ErrConflict):
		status = http.StatusConflict
		response.Retryable = true
	case errors.Is(err, auction.ErrAlreadyExists):
		status = http.StatusConflict
	default:
		impl.logger.Error("Unhandled error", slog.Any("error", err))
		response.Message = "internal server error"
	}

	if listingID != uuid.Nil && (errors.Is(err, auction.ErrBidTooLow) || errors.Is(err, auction.ErrListingNotOpen)) {
		if price, listingStatus, priceErr := impl.store.CurrentPrice(c.Request.Context(), listingID); priceErr == nil {
			response.CurrentPrice = &price
			response.Status = &listingStatus
		}
	}

	c.JSON(status, response)
}

// PostListing 新增一件商品，初始狀態是draft
// (POST /listings)
func (impl *ServerImpl) PostListing(c *gin.Context) {
	var request CreateListingRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	// 標題和描述是使用者輸入，寫入前先過濾掉危險的HTML
	title := strings.TrimSpace(impl.htmlChecker.Sanitize(request.Title))
	if title == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "title cannot be empty"})
		return
	}
	exists, err := impl.directory.UserExists(c.Request.Context(), request.SellerID)
	if err != nil {
		impl.respondError(c, uuid.Nil, err)
		return
	}
	if !exists {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: fmt.Sprintf("unknown seller %s", request.SellerID)})
		return
	}

	increment := impl.config.Auction.DefaultIncrement
	if request.Increment != nil {
		increment = *request.Increment
	}
	listing, err := impl.store.CreateListing(c.Request.Context(), ledger.CreateListingParams{
		SellerID:      request.SellerID,
		Title:         title,
		Description:   impl.htmlChecker.Sanitize(request.Description),
		StartingPrice: request.StartingPrice,
		Increment:     increment,
		OpensAt:       request.OpensAt,
		ClosesAt:      request.ClosesAt,
	})
	if err != nil {
		impl.respondError(c, uuid.Nil, err)
		return
	}
	c.Header("Location", listing.ID.String())
	c.JSON(http.StatusCreated, toListingView(listing))
}

// PostListingOpen 把商品轉成active，對已經開賣的商品重複呼叫是no-op
// (POST /listings/{listingID}/open)
func (impl *ServerImpl) PostListingOpen(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid listing id"})
		return
	}
	listing, err := impl.store.OpenListing(c.Request.Context(), listingID, time.Now().UTC())
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}
	c.JSON(http.StatusOK, toListingView(listing))
}

// PostListingClose 由賣家提前結標，對已經結束的商品重複呼叫是no-op
// (POST /listings/{listingID}/close)
func (impl *ServerImpl) PostListingClose(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid listing id"})
		return
	}
	listing, err := impl.store.CloseListing(c.Request.Context(), listingID, true, time.Now().UTC())
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}
	c.JSON(http.StatusOK, toListingView(listing))
}

// PostListingBids 提交一筆出價
// (POST /listings/{listingID}/bids)
func (impl *ServerImpl) PostListingBids(c *gin.Context) {
	const op = "PostListingBids"
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid listing id"})
		return
	}
	var request PlaceBidRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	exists, err := impl.directory.UserExists(c.Request.Context(), request.BidderID)
	if err != nil {
		impl.respondError(c, uuid.Nil, err)
		return
	}
	if !exists {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: fmt.Sprintf("unknown bidder %s", request.BidderID)})
		return
	}

	// 取得Redis上這件商品的出價鎖：同一件商品的出價在正常情況下
	// 逐筆處理，資料庫的版本比對則兜住鎖失效時的並行提交
	lockKey := fmt.Sprintf("%slisting:%s:lock", impl.config.Redis.KeyPrefix, listingID)
	dMutex := redisAdapter.NewRenewingMutex(impl.redisClient, lockKey)
	lockWait, cancelWait := context.WithTimeout(c.Request.Context(), impl.config.Auction.BidLockTimeout)
	defer cancelWait()
	lockCtx, err := dMutex.Lock(lockWait)
	if err != nil {
		impl.respondError(c, listingID, fmt.Errorf("[%s] %w: fail to acquire bid lock, err=%v", op, auction.ErrConflict, err))
		return
	}
	defer func() {
		if _, err := dMutex.Unlock(); err != nil {
			impl.logger.Warn("Fail to release bid lock", slog.String("op", op), slog.Any("error", err))
		}
	}()

	bid, err := impl.store.PlaceBid(lockCtx, ledger.PlaceBidParams{
		ListingID: listingID,
		BidderID:  request.BidderID,
		Amount:    request.Amount,
		MaxProxy:  request.MaxProxy,
	})
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}

	// 廣播出價事件，價格以這筆出價提交後的結果為準
	price, _, priceErr := impl.store.CurrentPrice(c.Request.Context(), listingID)
	if priceErr != nil {
		impl.logger.Warn("Fail to read current price for event", slog.Any("error", priceErr))
		price = bid.EffectiveAmount
	}
	if err := impl.sseManager.Publish(listingID.String(), BidEvent{
		ListingID: listingID,
		BidderID:  bid.BidderID,
		Amount:    bid.EffectiveAmount,
		Price:     price,
		Time:      bid.SubmittedAt,
	}); err != nil {
		impl.logger.Warn("Fail to publish bid event", slog.Any("error", err))
	}
	impl.logger.Info("Bid accepted",
		slog.String("listingID", listingID.String()),
		slog.String("bidderID", bid.BidderID.String()),
		slog.Int64("amount", bid.Amount),
		slog.Int64("price", price))

	c.JSON(http.StatusCreated, toBidView(bid))
}

// GetListings 依條件搜尋商品
// (GET /listings)
func (impl *ServerImpl) GetListings(c *gin.Context) {
	query := ledger.SearchQuery{
		Title:        c.Query("title"),
		SortKey:      c.Query("sort"),
		Desc:         c.Query("order") == "desc",
		ExcludeEnded: c.Query("excludeEnded") == "true",
	}
	var parseErr error
	parseInt := func(name string) *int64 {
		raw := c.Query(name)
		if raw == "" {
			return nil
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			parseErr = fmt.Errorf("invalid %s: %q", name, raw)
			return nil
		}
		return &value
	}
	query.PriceFrom = parseInt("priceFrom")
	query.PriceTo = parseInt("priceTo")
	if size := parseInt("size"); size != nil {
		query.Limit = int(*size)
	}
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: parseErr.Error()})
		return
	}

	listings, err := impl.store.SearchListings(c.Request.Context(), query)
	if err != nil {
		impl.respondError(c, uuid.Nil, err)
		return
	}
	c.JSON(http.StatusOK, SearchResult{
		Count: len(listings),
		Items: lo.Map(listings, func(listing models.Listing, _ int) ListingView {
			return toListingView(listing)
		}),
	})
}

// GetListing 取得商品詳情和完整的出價紀錄
// (GET /listings/{listingID})
func (impl *ServerImpl) GetListing(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid listing id"})
		return
	}
	listing, err := impl.store.GetListing(c.Request.Context(), listingID)
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}
	bids, err := impl.store.ListBids(c.Request.Context(), listingID)
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}
	view := toListingView(listing)
	view.Bids = toBidViews(bids)
	c.JSON(http.StatusOK, view)
}

// GetListingPrice 取得商品目前的價格和狀態
// (GET /listings/{listingID}/price)
func (impl *ServerImpl) GetListingPrice(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid listing id"})
		return
	}
	price, status, err := impl.store.CurrentPrice(c.Request.Context(), listingID)
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}
	c.JSON(http.StatusOK, PriceView{Price: price, Status: status})
}

// GetListingBids 取得商品的出價紀錄，由舊到新
// (GET /listings/{listingID}/bids)
func (impl *ServerImpl) GetListingBids(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid listing id"})
		return
	}
	bids, err := impl.store.ListBids(c.Request.Context(), listingID)
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}
	c.JSON(http.StatusOK, toBidViews(bids))
}

// GetListingOrder 取得商品結算後的訂單
// (GET /listings/{listingID}/order)
func (impl *ServerImpl) GetListingOrder(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid listing id"})
		return
	}
	order, err := impl.store.GetOrder(c.Request.Context(), listingID)
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}
	c.JSON(http.StatusOK, toOrderView(order))
}

// GetListingEvents 以SSE串流推送商品的出價事件
// (GET /listings/{listingID}/events)
func (impl *ServerImpl) GetListingEvents(c *gin.Context) {
	const op = "GetListingEvents"
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid listing id"})
		return
	}
	listing, err := impl.store.GetListing(c.Request.Context(), listingID)
	if err != nil {
		impl.respondError(c, listingID, err)
		return
	}
	if listing.Status.Terminal() {
		impl.respondError(c, listingID, fmt.Errorf("[%s] %w: status=%s", op, auction.ErrListingNotOpen, listing.Status))
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch, err := impl.sseManager.Subscribe(listingID.String())
	if err != nil {
		impl.respondError(c, listingID, fmt.Errorf("[%s] Fail to subscribe to listing events, err=%w", op, err))
		return
	}
	defer impl.sseManager.Unsubscribe(listingID.String(), ch)

	keepalive := time.NewTicker(impl.sseKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("bid", event)
			w.Flush()
		// 一段時間沒有事件就送出SSE註解行，確保中間的代理不會斷開連線
		case <-keepalive.C:
			w.WriteString(": keepalive\n\n")
			w.Flush()
		}
	}
}
