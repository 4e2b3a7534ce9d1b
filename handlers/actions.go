package handlers

import (
	"net/http"

	"counsel/models"
	"counsel/services/call"
	"counsel/services/chat"
	"counsel/services/payment"

	"github.com/gin-gonic/gin"
)

// CreateOrderHandler opens a gateway order for a new consultation.
func CreateOrderHandler(svc payment.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order request"})
			return
		}
		order, err := svc.CreateOrder(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"order": order})
	}
}

// VerifyPaymentHandler submits a payment proof; on success the matching
// session controller has already been activated.
func VerifyPaymentHandler(svc payment.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var proof models.PaymentProof
		if err := c.ShouldBindJSON(&proof); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment proof"})
			return
		}
		grant, err := svc.VerifyPayment(c.Request.Context(), proof)
		if err != nil {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"bookingId":    grant.Booking.ID,
			"mode":         grant.Booking.Mode,
			"sessionToken": grant.SessionToken,
		})
	}
}

// AcceptHandler accepts a queued incoming booking, routing by mode.
func AcceptHandler(callSvc call.CallService, chatSvc chat.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID := c.Param("bookingId")
		if _, ok := callSvc.Get(bookingID); ok {
			if err := callSvc.Accept(c.Request.Context(), bookingID); err != nil {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
		} else if err := chatSvc.Accept(c.Request.Context(), bookingID); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accepted": bookingID})
	}
}

// RejectHandler declines a queued incoming call.
func RejectHandler(callSvc call.CallService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID := c.Param("bookingId")
		if err := callSvc.Reject(c.Request.Context(), bookingID); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rejected": bookingID})
	}
}

// EndHandler terminates a live session, call or chat.
func EndHandler(callSvc call.CallService, chatSvc chat.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID := c.Param("bookingId")
		if _, ok := callSvc.Get(bookingID); ok {
			_ = callSvc.End(c.Request.Context(), bookingID)
		} else {
			_ = chatSvc.End(c.Request.Context(), bookingID)
		}
		c.JSON(http.StatusOK, gin.H{"ended": bookingID})
	}
}

// SendMessageHandler posts a chat message into an active session.
func SendMessageHandler(chatSvc chat.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID := c.Param("bookingId")
		var body struct {
			Content  string `json:"content" binding:"required"`
			FileName string `json:"fileName"`
			FileType string `json:"fileType"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}

		var (
			msg *models.Message
			err error
		)
		if body.FileName != "" {
			msg, err = chatSvc.SendFile(c.Request.Context(), bookingID, body.FileName, body.FileType, body.Content)
		} else {
			msg, err = chatSvc.SendMessage(c.Request.Context(), bookingID, body.Content)
		}
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}

// TypingHandler forwards a typing signal for an active chat session.
func TypingHandler(chatSvc chat.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID := c.Param("bookingId")
		if err := chatSvc.Typing(c.Request.Context(), bookingID); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
