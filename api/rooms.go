package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/service/rooms"
)

type RoomHandler struct {
	service rooms.RoomUseCase
}

type roomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity"`
	PriceCents  int64  `json:"price_cents"`
	// Version is the caller's last-read version; stale writers are rejected.
	Version int64 `json:"version"`
}

func NewRoomHandler(service rooms.RoomUseCase) *RoomHandler {
	return &RoomHandler{service: service}
}

func (h *RoomHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.GET("/", h.list)
	router.GET("/:id", h.get)
	router.PUT("/:id", h.update)
	router.DELETE("/:id", h.delete)
}

func (h *RoomHandler) create(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.CreateRoom(c.Request.Context(), rooms.UpdateRoomInput{
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.Capacity,
		PriceCents:  req.PriceCents,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) list(c *gin.Context) {
	list, err := h.service.ListRooms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *RoomHandler) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	room, err := h.service.GetRoom(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.UpdateRoom(c.Request.Context(), id, rooms.UpdateRoomInput{
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.Capacity,
		PriceCents:  req.PriceCents,
	}, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	version, err := strconv.ParseInt(c.Query("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version query parameter is required"})
		return
	}

	if err := h.service.DeleteRoom(c.Request.Context(), id, version); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
