package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/paintwithbuddy/services/backend/internal/config"
	"gitlab.com/paintwithbuddy/services/backend/internal/db"
	"gitlab.com/paintwithbuddy/services/backend/internal/handlers"
	"gitlab.com/paintwithbuddy/services/backend/internal/ratelimit"
	"gitlab.com/paintwithbuddy/services/backend/internal/room"
	"gitlab.com/paintwithbuddy/services/backend/internal/server"
	"gitlab.com/paintwithbuddy/services/backend/internal/signaling"
	"gitlab.com/paintwithbuddy/services/backend/internal/ws"
	iceHandlers "gitlab.com/paintwithbuddy/services/backend/pkg/handlers"
)

func main() {
	cfg := config.Load()
	logger := cfg.Log.NewLogger()
	log.SetDefault(logger)

	srvLog := logger.WithPrefix("Server")
	srvLog.Info("Starting PaintWithBuddy realtime server...")

	database := db.NewDB(context.Background(), cfg.Redis.URL, cfg.Redis.Password)
	defer database.Close()

	rooms := room.NewRegistry(room.Options{
		GracePeriod: cfg.Room.GracePeriod,
		HighWater:   cfg.Room.HighWater,
		Keep:        cfg.Room.Keep,
		Logger:      logger.WithPrefix("Room"),
	})

	directory := signaling.NewDirectory()
	relay := signaling.NewRelay(directory, logger.WithPrefix("Signaling"))

	rateLimiter := ratelimit.NewLimiter(database.Redis, map[string]ratelimit.Limit{
		ratelimit.ActionChat:   {Requests: cfg.RateLimit.ChatLimit, Window: cfg.RateLimit.ChatWindow},
		ratelimit.ActionSignal: {Requests: cfg.RateLimit.SignalLimit, Window: cfg.RateLimit.SignalWindow},
	})

	messages := handlers.NewMessageHandler(rooms, directory, relay, rateLimiter, logger.WithPrefix("Handler"))
	iceHandler := iceHandlers.NewIceHandler(cfg.ICE.TwilioAccountSID, cfg.ICE.TwilioAuthToken, cfg.ICE.STUNURLs)

	srv := server.New(database, rooms, messages, iceHandler, server.Config{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		AllowOrigin:     cfg.CORS.AllowOrigin,
		Client: ws.Options{
			SendQueue:      cfg.WebSocket.SendQueue,
			WriteWait:      cfg.WebSocket.WriteWait,
			PongWait:       cfg.WebSocket.PongWait,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			Logger:         logger.WithPrefix("WS"),
		},
	}, srvLog)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		srvLog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvLog.Fatal("Failed to start server", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	srvLog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		srvLog.Error("Server forced to shutdown", "err", err)
		return
	}

	srvLog.Info("Server exited gracefully")
}
