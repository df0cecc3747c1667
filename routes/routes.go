package routes

import (
	"log/slog"
	"net/http"

	"quizroom/handlers"
	"quizroom/middleware"
	"quizroom/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers join from wherever the QR code sends them.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func SetupRoutes(
	router *gin.Engine,
	roomHandler *handlers.RoomHandler,
	hub *services.Hub,
	jwtSecret string,
	logger *slog.Logger,
) {
	api := router.Group("/api")
	{
		// Public room routes
		rooms := api.Group("/rooms")
		{
			rooms.GET("/:code", roomHandler.GetRoom)
			rooms.GET("/:code/qr", roomHandler.QRCode)
		}

		// Owner routes
		protected := api.Group("/rooms")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			protected.POST("", roomHandler.CreateRoom)
			protected.DELETE("/:code", roomHandler.DeleteRoom)
		}
	}

	// Clients identify themselves with join_as_host, join_room or reconnect
	// once the socket is open.
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", c.ClientIP(), "err", err)
			return
		}

		client := hub.RegisterClient(conn)
		logger.Debug("websocket connected", "conn", client.ID(), "remote", c.ClientIP())
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
