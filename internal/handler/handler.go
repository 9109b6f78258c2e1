// Package handler exposes the cart, checkout and pricing operations over
// HTTP.
package handler

import (
	"net/http"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Handler serves the /api routes, delegating business logic to the domain
// services.
type Handler struct {
	carts   *cart.Service
	orders  *order.Service
	pricing *pricing.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(carts *cart.Service, orders *order.Service, pricing *pricing.Service) *Handler {
	return &Handler{
		carts:   carts,
		orders:  orders,
		pricing: pricing,
	}
}

// Register mounts the API routes on mux. Cart and order routes require an
// API key checked by sec; pricing routes are public.
func (h *Handler) Register(mux *http.ServeMux, sec *SecurityHandler) {
	authed := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, sec.Authenticate(fn))
	}

	authed("GET /api/cart", h.GetCart)
	authed("DELETE /api/cart", h.ClearCart)
	authed("POST /api/cart/items", h.AddCartItem)
	authed("PATCH /api/cart/items/{itemID}", h.UpdateCartItem)
	authed("DELETE /api/cart/items/{itemID}", h.RemoveCartItem)

	authed("POST /api/orders", h.CreateOrder)
	authed("GET /api/orders", h.ListOrders)
	authed("GET /api/orders/{orderID}", h.GetOrder)
	authed("PATCH /api/orders/{orderID}/status", h.UpdateOrderStatus)

	mux.HandleFunc("GET /api/products/{productID}", h.GetProduct)
	mux.HandleFunc("GET /api/products/{productID}/price", h.GetProductPrice)
	mux.HandleFunc("GET /api/products/{productID}/stock", h.GetProductStock)
}
