package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/menta2k/pulmoscan/internal/config"
	"github.com/menta2k/pulmoscan/internal/fakeserver"
	"github.com/menta2k/pulmoscan/internal/logging"
)

func main() {
	var addr, mode, level string
	var latency time.Duration

	flag.StringVar(&addr, "addr", ":8000", "listen address")
	flag.StringVar(&mode, "mode", string(fakeserver.ModeTriple), "response shape: triple|legacy|topk")
	flag.DurationVar(&latency, "latency", 0, "artificial delay per prediction")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	logger := logging.New(config.LoggingConfig{Level: level, Format: "text"})
	if level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	switch fakeserver.Mode(mode) {
	case fakeserver.ModeTriple, fakeserver.ModeLegacy, fakeserver.ModeTopK:
	default:
		logger.Fatalf("unknown mode %q (use triple, legacy or topk)", mode)
	}

	srv := fakeserver.NewServer(fakeserver.Options{
		Mode:    fakeserver.Mode(mode),
		Latency: latency,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("addr", addr).WithField("mode", mode).Info("fake predictor listening")
	if err := srv.Start(ctx, addr); err != nil {
		logger.Fatal(err)
	}
}
