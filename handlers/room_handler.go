package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"quizroom/middleware"
	"quizroom/services"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

type RoomHandler struct {
	rooms       *services.RoomService
	joinBaseURL string
	logger      *slog.Logger
}

// NewRoomHandler builds the REST surface for rooms. An empty joinBaseURL makes
// QR codes point back at the requesting host.
func NewRoomHandler(rooms *services.RoomService, joinBaseURL string, logger *slog.Logger) *RoomHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomHandler{
		rooms:       rooms,
		joinBaseURL: strings.TrimSuffix(joinBaseURL, "/"),
		logger:      logger,
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req services.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), userID.(uint), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	snap, err := h.rooms.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	if err := h.rooms.DeleteRoom(c.Request.Context(), userID.(uint), c.Param("code")); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// QRCode renders a PNG of the room's join URL.
func (h *RoomHandler) QRCode(c *gin.Context) {
	snap, err := h.rooms.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}

	png, err := qrcode.Encode(h.joinURL(c, snap.Code), qrcode.Medium, qrSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (h *RoomHandler) joinURL(c *gin.Context, code string) string {
	base := h.joinBaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/join/" + code
}

func (h *RoomHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": services.PublicMessage(err)})
	case services.IsUserFacing(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": services.PublicMessage(err)})
	default:
		h.logger.Error("room request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
