package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterHandlers 把所有端點掛到router上
func (impl *ServerImpl) RegisterHandlers(router gin.IRouter) {
	listings := router.Group("/listings")
	listings.POST("", impl.PostListing)
	listings.GET("", impl.GetListings)
	listings.GET("/:listingID", impl.GetListing)
	listings.POST("/:listingID/open", impl.PostListingOpen)
	listings.POST("/:listingID/close", impl.PostListingClose)
	listings.POST("/:listingID/bids", impl.PostListingBids)
	listings.GET("/:listingID/bids", impl.GetListingBids)
	listings.GET("/:listingID/price", impl.GetListingPrice)
	listings.GET("/:listingID/order", impl.GetListingOrder)
	listings.GET("/:listingID/events", impl.GetListingEvents)
}
