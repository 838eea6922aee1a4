package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/antoniostano/profe/internal/animator"
	"github.com/antoniostano/profe/internal/backend"
	"github.com/antoniostano/profe/internal/capture"
	"github.com/antoniostano/profe/internal/config"
	"github.com/antoniostano/profe/internal/conversation"
	"github.com/antoniostano/profe/internal/gateway"
	"github.com/antoniostano/profe/internal/history"
	"github.com/antoniostano/profe/internal/observability"
	"github.com/antoniostano/profe/internal/tutor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(256)

	var device capture.Device
	switch strings.ToLower(strings.TrimSpace(cfg.MicDevice)) {
	case "mock":
		device = capture.NewMockDevice(cfg.MicSampleRate)
		log.Printf("capture device: mock (%d Hz)", cfg.MicSampleRate)
	case "none":
		device = capture.UnavailableDevice{}
		log.Printf("capture device: disabled, push-to-talk will report an error")
	default:
		log.Fatalf("invalid MIC_DEVICE: %q (expected mock|none)", cfg.MicDevice)
	}
	recorder := capture.NewSession(device, cfg.MaxRecordingTime)

	be := backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout)
	sess := conversation.NewSession(cfg.StudentLevel)
	log.Printf("session %s started at level %s against %s", sess.ID, sess.StudentLevel, cfg.BackendBaseURL)

	orchestrator := tutor.NewOrchestrator(
		sess,
		history.NewStore(),
		be,
		recorder,
		cfg.SilenceRMSFloor,
		metrics,
		stages,
	)

	anim := animator.New(animator.TargetSet{}, animator.Config{
		LipSyncGain:    cfg.LipSyncGain,
		SmileInfluence: cfg.SmileInfluence,
	})
	spectrum := animator.NewSpectrumNode()
	anim.AttachAnalysis(spectrum)

	api := gateway.New(cfg, orchestrator, anim, spectrum, metrics, stages)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
