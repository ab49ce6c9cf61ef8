package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/apperr"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/service/booking"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

type createBookingRequest struct {
	RoomID      int64   `json:"room_id"`
	UserID      *int64  `json:"user_id"`
	GuestName   string  `json:"guest_name"`
	GuestEmail  string  `json:"guest_email"`
	CheckIn     string  `json:"check_in"`
	CheckOut    string  `json:"check_out"`
	AmountCents int64   `json:"amount_cents"`
	PaymentRef  *string `json:"payment_ref"`
}

type updateDatesRequest struct {
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
}

type forceCancelRequest struct {
	Reason string `json:"reason"`
}

type bookingResponse struct {
	ID                int64   `json:"id"`
	RoomID            int64   `json:"room_id"`
	GuestName         string  `json:"guest_name"`
	GuestEmail        string  `json:"guest_email"`
	CheckIn           string  `json:"check_in"`
	CheckOut          string  `json:"check_out"`
	Status            string  `json:"status"`
	AmountCents       int64   `json:"amount_cents"`
	RefundID          *string `json:"refund_id,omitempty"`
	RefundStatus      *string `json:"refund_status,omitempty"`
	RefundAmountCents *int64  `json:"refund_amount_cents,omitempty"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.GET("/:id", h.get)
	router.POST("/:id/confirm", h.confirm)
	router.PATCH("/:id/dates", h.updateDates)
	router.DELETE("/:id", h.cancel)
	router.POST("/:id/force-cancel", h.forceCancel)
	router.POST("/:id/archive", h.archive)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	checkIn, checkOut, err := parseDates(req.CheckIn, req.CheckOut)
	if err != nil {
		writeError(c, err)
		return
	}

	b, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		RoomID:      req.RoomID,
		UserID:      req.UserID,
		GuestName:   req.GuestName,
		GuestEmail:  req.GuestEmail,
		CheckIn:     checkIn,
		CheckOut:    checkOut,
		AmountCents: req.AmountCents,
		PaymentRef:  req.PaymentRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toBookingResponse(b))
}

func (h *BookingHandler) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.service.GetBooking(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) confirm(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.service.ConfirmBooking(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) updateDates(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateDatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	checkIn, checkOut, err := parseDates(req.CheckIn, req.CheckOut)
	if err != nil {
		writeError(c, err)
		return
	}

	b, err := h.service.UpdateBookingDates(c.Request.Context(), id, checkIn, checkOut)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	outcome, err := h.service.CancelBooking(c.Request.Context(), booking.CancelInput{
		BookingID:      id,
		Actor:          c.GetHeader("X-Actor"),
		Override:       c.Query("override") == "true",
		Elevated:       c.GetHeader("X-Elevated") == "true",
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (h *BookingHandler) forceCancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req forceCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.ForceCancelBooking(c.Request.Context(), id, c.GetHeader("X-Actor"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

// archive soft-deletes a booking; purged physically later by the retention CLI.
func (h *BookingHandler) archive(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteBooking(c.Request.Context(), id, c.GetHeader("X-Actor")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:                b.ID,
		RoomID:            b.RoomID,
		GuestName:         b.GuestName,
		GuestEmail:        b.GuestEmail,
		CheckIn:           b.CheckIn.Format("2006-01-02"),
		CheckOut:          b.CheckOut.Format("2006-01-02"),
		Status:            string(b.Status),
		AmountCents:       b.AmountCents,
		RefundID:          b.RefundID,
		RefundStatus:      b.RefundStatus,
		RefundAmountCents: b.RefundAmountCents,
	}
}

func parseDates(in, out string) (time.Time, time.Time, error) {
	checkIn, err := time.Parse("2006-01-02", in)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.InvalidInput("check_in must be YYYY-MM-DD")
	}
	checkOut, err := time.Parse("2006-01-02", out)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.InvalidInput("check_out must be YYYY-MM-DD")
	}
	return checkIn, checkOut, nil
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": appErr.Details,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
