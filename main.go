package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"arbiter/api"
)

func main() {
	args, err := ParseArgs()
	if err != nil {
		panic(err)
	}
	if err := args.Validate(); err != nil {
		panic(err)
	}

	level, _ := parseLogLevel(args.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := api.NewServer(args.ServerConfig, api.WithServerLogger(logger))
	if err != nil {
		panic(err)
	}
	defer server.Close()
	if err := server.Start(); err != nil {
		panic(err)
	}

	httpServer := &http.Server{
		Addr:    args.ServerURL,
		Handler: server.Handler(),
	}
	// SSE 連線不會自己結束，關閉時先中斷所有串流
	httpServer.RegisterOnShutdown(server.StopStreaming)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Start http server", slog.String("addr", args.ServerURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Http server stopped unexpectedly", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), args.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Fail to shutdown http server", slog.Any("error", err))
	}
}
