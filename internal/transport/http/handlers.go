package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/Call/internal/app/relay"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type CallsResponse struct {
	Calls []relay.RoomInfo `json:"calls"`
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// ListCalls reports the live call topics and who has joined them.
func ListCalls(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, CallsResponse{Calls: hub.Rooms()})
	}
}
