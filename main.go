// File: counsel/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"counsel/config"
	"counsel/media"
	"counsel/realtime"
	"counsel/routes"
	"counsel/services/call"
	"counsel/services/chat"
	"counsel/services/payment"
	"counsel/store"
	"counsel/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	identity, err := utils.IdentityFromToken(config.AppConfig.AuthToken)
	if err != nil {
		logger.Sugar().Fatalf("main: invalid auth token: %v", err)
	}
	if utils.TokenExpired(identity) {
		logger.Sugar().Fatalf("main: auth token for %s has expired", identity.AccountID)
	}

	sessionStore, err := store.NewStore(config.AppConfig.SessionStore, 24*time.Hour)
	if err != nil {
		logger.Sugar().Fatalf("main: failed to open session store: %v", err)
	}
	defer sessionStore.Close()

	// Realtime channel.
	header := http.Header{}
	header.Set("Authorization", "Bearer "+config.AppConfig.AuthToken)
	socket := realtime.NewSocket(realtime.Options{
		URL:       config.AppConfig.SocketURL,
		Header:    header,
		BaseDelay: time.Duration(config.AppConfig.ReconnectBaseDelayMS) * time.Millisecond,
		MaxDelay:  time.Duration(config.AppConfig.ReconnectMaxDelaySec) * time.Second,
		Logger:    logger,
	})

	ownRoom := realtime.Room{Kind: realtime.RoomUser, ID: identity.AccountID}
	if identity.Role == "professional" {
		ownRoom.Kind = realtime.RoomProfessional
	}
	if err := socket.Join(ownRoom); err != nil {
		logger.Sugar().Warnf("main: initial room registration: %v", err)
	}

	// Media engine, one adapter per call session.
	engineFactory := func(events media.Events) media.SessionAdapter {
		engine := media.NewWebRTCEngine(config.AppConfig.MediaGatewayURL, logger)
		return media.NewAdapter(engine, events, "", logger)
	}

	// Session controllers.
	callService := call.NewDefaultCallService(
		socket, identity, sessionStore, engineFactory, config.ConnectTimeout(), logger)
	historyClient := chat.NewDefaultHistoryClient(config.AppConfig.APIBaseURL, config.AppConfig.AuthToken)
	chatService := chat.NewDefaultChatService(
		socket, identity, sessionStore, historyClient,
		config.TypingThrottle(), config.TypingIndicatorTTL(), logger)

	paymentService := payment.NewDefaultPaymentService(
		config.AppConfig.APIBaseURL, config.AppConfig.AuthToken,
		socket, identity, callService, chatService, logger)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	socket.Start(rootCtx)

	// Create the Gin router.
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	routes.RegisterRoutes(router, &routes.Deps{
		Channel: socket,
		Payment: paymentService,
		Calls:   callService,
		Chats:   chatService,
	})

	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	stop()
	_ = socket.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
