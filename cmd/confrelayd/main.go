// Command confrelayd is the gateway's lifecycle/supervisor: it parses
// configuration and CLI flags, loads plugins, opens the HTTP and HTTPS
// listeners, and drains everything in order on shutdown signal, mirroring
// the teacher server's staged startup/shutdown log lines.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/streamspace-dev/confrelay/internal/config"
	"github.com/streamspace-dev/confrelay/internal/dtls"
	"github.com/streamspace-dev/confrelay/internal/gateway"
	"github.com/streamspace-dev/confrelay/internal/httprouter"
	"github.com/streamspace-dev/confrelay/internal/ice"
	"github.com/streamspace-dev/confrelay/internal/metrics"
	"github.com/streamspace-dev/confrelay/internal/negotiate"
	"github.com/streamspace-dev/confrelay/internal/registry"
	"github.com/streamspace-dev/confrelay/internal/scheduler"
	"github.com/streamspace-dev/confrelay/internal/session"
	"github.com/streamspace-dev/confrelay/plugins/echotest"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := pflag.NewFlagSet("confrelayd", pflag.ContinueOnError)
	config.Flags(fs)
	pretty := fs.Bool("pretty", false, "console-pretty log output instead of JSON")
	configFile := fs.String("config", "", "path to the configuration file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	setupLogging(*pretty)

	cfg, err := config.Load(*configFile, *configFile != "", fs)
	if err != nil {
		log.Error().Err(err).Msg("loading configuration")
		return 1
	}
	log.Info().Str("base_path", cfg.BasePath).Msg("configuration loaded")

	sessions := session.NewTable()
	reg := registry.New(log.Logger)
	reg.RegisterBuiltin("confrelay.plugin.echotest", echotest.Descriptor)

	iceAgent := ice.NewDefaultAgent()
	dtlsCtx := dtls.NewDefaultContext()
	neg := negotiate.New(iceAgent, dtlsCtx)

	if cfg.CertPEM != "" && cfg.CertKey != "" {
		if err := neg.Init(ice.Config{
			STUNHost: cfg.STUNServer,
			STUNPort: cfg.STUNPort,
			RTPMin:   firstNonZero(cfg.RTPPortMin, 10000),
			RTPMax:   firstNonZero(cfg.RTPPortMax, 10200),
			PublicIP: cfg.PublicIP,
		}, cfg.CertPEM, cfg.CertKey); err != nil {
			log.Error().Err(err).Msg("initializing ICE/DTLS")
			return 1
		}
	} else if err := iceAgent.Init(ice.Config{
		STUNHost: cfg.STUNServer,
		STUNPort: cfg.STUNPort,
		RTPMin:   firstNonZero(cfg.RTPPortMin, 10000),
		RTPMax:   firstNonZero(cfg.RTPPortMax, 10200),
		PublicIP: cfg.PublicIP,
	}); err != nil {
		log.Error().Err(err).Msg("initializing ICE agent")
		return 1
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	gw := gateway.New(sessions, reg, neg, m, log.Logger)

	if err := reg.Load(context.Background(), cfg.PluginsFolder, gw, cfg.ConfigsFolder); err != nil {
		log.Error().Err(err).Msg("loading plugins")
		return 1
	}
	log.Info().Int("count", reg.Len()).Msg("plugins loaded")

	router := httprouter.New(gw, cfg.BasePath, m, log.Logger)

	sched := scheduler.New()
	const metricsJobPkg = "confrelay.gateway.metrics"
	if err := sched.Register(metricsJobPkg, "@every 5s", func() {
		m.Sessions.Set(float64(sessions.Len()))
		m.Handles.Set(float64(sessions.HandleCount()))
		m.PluginsLoaded.Set(float64(reg.Len()))

		m.EventQueueSize.Reset()
		for _, s := range sessions.Snapshot() {
			m.EventQueueSize.WithLabelValues(strconv.FormatUint(s.ID, 10)).Set(float64(s.Events.Len()))
		}
	}); err != nil {
		log.Error().Err(err).Msg("scheduling metrics refresh job")
		return 1
	}

	var servers []*http.Server
	errCh := make(chan error, 2)

	if cfg.HTTPEnabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           router.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, srv)
		go func() {
			log.Info().Int("port", cfg.HTTPPort).Msg("HTTP listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("HTTP listener: %w", err)
			}
		}()
	}

	if cfg.HTTPSEnabled {
		cert, err := tls.LoadX509KeyPair(cfg.CertPEM, cfg.CertKey)
		if err != nil {
			log.Error().Err(err).Msg("loading HTTPS certificate pair")
			return 1
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.SecurePort),
			Handler:           router.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			TLSConfig:         &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
		}
		servers = append(servers, srv)
		go func() {
			log.Info().Int("port", cfg.SecurePort).Msg("HTTPS listening")
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("HTTPS listener: %w", err)
			}
		}()
	}

	if len(servers) == 0 {
		log.Error().Msg("no listener enabled; nothing to serve")
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("listener failed")
		return 1
	}

	gw.Shutdown()
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("listener shutdown did not complete cleanly")
		}
	}
	reg.Shutdown()
	log.Info().Msg("drain complete")
	return 0
}

func setupLogging(pretty bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("service", "confrelayd").Logger()
}

func firstNonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
