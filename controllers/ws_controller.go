package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PriceStream upgrades a request to a live price WebSocket.
type PriceStream interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ClientCount() int
	Subscriptions() []string
}

// WSController exposes the realtime hub
type WSController struct {
	hub PriceStream
}

func NewWSController(hub PriceStream) *WSController {
	return &WSController{hub: hub}
}

// Prices upgrades to WebSocket
// GET /ws/prices
func (ctrl *WSController) Prices(c *gin.Context) {
	ctrl.hub.HandleWebSocket(c.Writer, c.Request)
}

// Stats reports connected clients and watched symbols
// GET /api/v1/ws/stats
func (ctrl *WSController) Stats(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{
		"clients":       ctrl.hub.ClientCount(),
		"subscriptions": ctrl.hub.Subscriptions(),
	})
}
