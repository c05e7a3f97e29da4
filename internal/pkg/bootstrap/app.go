package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"stockhold/internal/pkg/config"
	"stockhold/internal/pkg/logger"
	"stockhold/internal/pkg/nacos"
	"stockhold/internal/pkg/tracing"
)

// AppInfo carries everything service-specific that StartService needs.
type AppInfo struct {
	ServiceName      string
	Port             int
	Config           *config.Config
	RegisterHandlers func(mux *http.ServeMux)
	// OnShutdown hooks run in order during graceful shutdown, before the
	// HTTP server and tracer are torn down.
	OnShutdown []func(ctx context.Context) error
}

// StartService runs the common lifecycle shared by all binaries: logging,
// tracing, Nacos registration, an HTTP admin surface with /metrics and
// /healthz, and graceful shutdown on SIGINT/SIGTERM. It blocks until the
// process is asked to stop.
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)

	tp, err := tracing.InitTracerProvider(info.ServiceName, info.Config.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize tracer provider")
	}

	namingClient, err := nacos.NewClient(info.Config.Nacos.ServerAddrs, info.Config.Nacos.Namespace, info.Config.Nacos.Group)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize nacos client")
	}

	ip, err := getOutboundIP()
	if err != nil {
		log.Fatal().Err(err).Msg("determine outbound IP")
	}
	if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		log.Fatal().Err(err).Msg("register service instance")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(mux)
	}

	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		log.Info().Int("port", info.Port).Msg("admin server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, hook := range info.OnShutdown {
		if err := hook(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown hook failed")
		}
	}

	if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		log.Error().Err(err).Msg("deregister from nacos")
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shut down tracer provider")
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shut down admin server")
	}

	log.Info().Msg("shutdown complete")
}

func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "dial to determine outbound IP")
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
