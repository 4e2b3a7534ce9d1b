package handlers

import (
	"net/http"

	"counsel/config"
	"counsel/realtime"
	"counsel/services/call"
	"counsel/services/chat"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports process and channel liveness.
func HealthHandler(channel realtime.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"env":       config.GetEnv(),
			"connected": channel.Connected(),
		})
	}
}

// SessionsHandler lists the live call and chat sessions.
func SessionsHandler(callSvc call.CallService, chatSvc chat.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"calls": callSvc.Sessions(),
			"chats": chatSvc.Sessions(),
		})
	}
}

// SessionHandler returns the session for one booking, call or chat.
func SessionHandler(callSvc call.CallService, chatSvc chat.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID := c.Param("bookingId")
		if cs, ok := callSvc.Get(bookingID); ok {
			c.JSON(http.StatusOK, gin.H{"call": cs})
			return
		}
		if cs, ok := chatSvc.Get(bookingID); ok {
			c.JSON(http.StatusOK, gin.H{"chat": cs})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for booking"})
	}
}
