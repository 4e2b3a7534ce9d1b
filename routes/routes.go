package routes

import (
	"counsel/handlers"
	"counsel/realtime"
	"counsel/services/call"
	"counsel/services/chat"
	"counsel/services/payment"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Channel realtime.Channel
	Payment payment.PaymentService
	Calls   call.CallService
	Chats   chat.ChatService
}

// RegisterRoutes wires the agent's HTTP surface onto the router.
func RegisterRoutes(router *gin.Engine, deps *Deps) {
	router.GET("/health", handlers.HealthHandler(deps.Channel))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/orders", handlers.CreateOrderHandler(deps.Payment))
		api.POST("/payments/verify", handlers.VerifyPaymentHandler(deps.Payment))

		api.GET("/sessions", handlers.SessionsHandler(deps.Calls, deps.Chats))
		api.GET("/sessions/:bookingId", handlers.SessionHandler(deps.Calls, deps.Chats))
		api.POST("/sessions/:bookingId/accept", handlers.AcceptHandler(deps.Calls, deps.Chats))
		api.POST("/sessions/:bookingId/reject", handlers.RejectHandler(deps.Calls))
		api.POST("/sessions/:bookingId/end", handlers.EndHandler(deps.Calls, deps.Chats))
		api.POST("/sessions/:bookingId/messages", handlers.SendMessageHandler(deps.Chats))
		api.POST("/sessions/:bookingId/typing", handlers.TypingHandler(deps.Chats))
	}
}
