package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quic-go/quic-go/http3"

	"github.com/classlingo/relay/internal/config"
	"github.com/classlingo/relay/pkg/activecount"
	"github.com/classlingo/relay/pkg/classroom"
	"github.com/classlingo/relay/pkg/dispatcher"
	"github.com/classlingo/relay/pkg/gateway"
	"github.com/classlingo/relay/pkg/handlers"
	"github.com/classlingo/relay/pkg/health"
	"github.com/classlingo/relay/pkg/httpapi"
	"github.com/classlingo/relay/pkg/lifecycle"
	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/orchestrator"
	"github.com/classlingo/relay/pkg/provider"
	"github.com/classlingo/relay/pkg/security"
	"github.com/classlingo/relay/pkg/storage"
	"github.com/classlingo/relay/pkg/wsconn"
)

const version = "1.0.0"

func main() {
	showVersion := flag.Bool("version", false, "Show version")
	generateCerts := flag.Bool("generate-certs", false, "Generate self-signed TLS certificates")
	flag.Parse()

	if *showVersion {
		fmt.Printf("classroom translation relay v%s\n", version)
		os.Exit(0)
	}

	if *generateCerts {
		if err := generateTLSCertificates(); err != nil {
			log.Fatalf("Failed to generate certificates: %v", err)
		}
		fmt.Println("TLS certificates generated successfully")
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, storage.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		log.Fatal("failed to open durable store", map[string]interface{}{"error": err.Error()})
	}
	defer store.Close()

	var audioCache *storage.AudioCache
	if cfg.Storage.RedisURL != "" {
		audioCache, err = storage.NewAudioCache(cfg.Storage.RedisURL, 24*time.Hour)
		if err != nil {
			log.Warn("failed to connect to translation audio cache, continuing without it", map[string]interface{}{"error": err.Error()})
			audioCache = nil
		}
	}

	registry := wsconn.New()
	classroomDir := classroom.New(cfg.Timing.ClassroomCodeExpiration, log)
	classroomDir.StartSweeper(ctx, cfg.Timing.ClassroomCodeCleanupInterval)

	timing := lifecycle.Timing{
		CleanupInterval:           cfg.Timing.SessionCleanupInterval,
		EmptyTeacherTimeout:       cfg.Timing.SessionEmptyTeacherTimeout,
		AllStudentsLeftTimeout:    cfg.Timing.SessionAllStudentsLeftTimeout,
		StaleSessionTimeout:       cfg.Timing.SessionStaleTimeout,
		VeryShortSessionThreshold: cfg.Timing.SessionVeryShortThreshold,
		TeacherReconnectionGrace:  cfg.Timing.TeacherReconnectionGracePeriod,
		TeacherEndedRecentWindow:  cfg.Timing.TeacherEndedRecentWindow,
	}
	lifecycleMgr := lifecycle.New(store, classroomDir, timing, log)
	lifecycleMgr.Start(ctx)

	activeCount := activecount.New(store, cfg.Timing.ActiveCountRefreshInterval, log)
	activeCount.Start(ctx)

	// No MachineTranslator/SpeechSynthesizer is wired here: translation and
	// TTS happen in an external service, not in-process, and the Facade's
	// nil-tolerant degraded mode (passthrough MT, silent TTS) is the
	// documented extension point for plugging a real backend in.
	facade := provider.New(nil, nil, nil, audioCache, provider.DefaultConfig(), log)
	orch := orchestrator.New(facade, registry, store, cfg.Timing.EnableDetailedTranslation, log)

	gw := gateway.New(gateway.Deps{
		Registry:              registry,
		Classroom:             classroomDir,
		Store:                 store,
		Lifecycle:             lifecycleMgr,
		CORSOrigins:           cfg.Security.CORSOrigins,
		InvalidClassroomDelay: cfg.Timing.InvalidClassroomMessageDelay,
		Log:                   log,
	})

	disp := dispatcher.New(registry, store, cfg.Timing.SessionExpiredMessageDelay, gw.Close, log)
	gw.SetDispatcher(disp)

	h := handlers.New(handlers.Deps{
		Registry:              registry,
		Classroom:             classroomDir,
		Store:                 store,
		Lifecycle:             lifecycleMgr,
		Orchestrator:          orch,
		Facade:                facade,
		InvalidClassroomDelay: cfg.Timing.InvalidClassroomMessageDelay,
		CloseConn:             gw.Close,
		Log:                   log,
	})
	h.RegisterOn(disp)

	healthMonitor := health.New(registry, cfg.Timing.HealthCheckInterval, func(id string) {
		log.Debug("health monitor terminated an unresponsive connection", map[string]interface{}{"connectionId": id})
	}, log)
	healthMonitor.Start(ctx)

	// NewAuthService panics on a short secret, so only construct it when
	// admin auth is actually enabled — cfg.Validate already requires a
	// real secret in that case, and adminGuard never touches a nil auth
	// service when EnableAdmin is false.
	var authService *security.AuthService
	var apiKeyStore *security.APIKeyStore
	if cfg.Security.EnableAdmin {
		authService = security.NewAuthService(cfg.Security.JWTSecret, 24*time.Hour)
		apiKeyStore = security.NewAPIKeyStore()
		for i, key := range cfg.Security.AdminAPIKeys {
			apiKeyStore.AddKey(key, security.APIKeyInfo{
				Key:       key,
				UserID:    fmt.Sprintf("operator-%d", i+1),
				Name:      "ADMIN_API_KEYS",
				CreatedAt: time.Now(),
				Active:    true,
			})
		}
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.New(httpapi.Config{
		Store:          store,
		ActiveCount:    activeCount,
		Classroom:      classroomDir,
		Auth:           authService,
		APIKeys:        apiKeyStore,
		EnableAdmin:    cfg.Security.EnableAdmin,
		CORSOrigins:    cfg.Security.CORSOrigins,
		RateLimitRPS:   cfg.Security.RateLimitRPS,
		RateLimitBurst: cfg.Security.RateLimitBurst,
		Log:            log,
	})
	router.GET("/ws", gin.WrapH(gw))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	var serveErr error
	if cfg.Server.EnableHTTP3 {
		log.Info("starting HTTP/3 server", map[string]interface{}{"addr": addr})
		serveErr = startHTTP3Server(ctx, addr, cfg, router, gw, log)
	} else {
		log.Info("starting HTTP/2 server", map[string]interface{}{"addr": addr})
		serveErr = startHTTP2Server(ctx, addr, cfg, router, gw, log)
	}
	if serveErr != nil && serveErr != http.ErrServerClosed {
		log.Fatal("server failed", map[string]interface{}{"error": serveErr.Error()})
	}
}

func startHTTP3Server(ctx context.Context, addr string, cfg *config.Config, handler http.Handler, gw *gateway.Gateway, log logger.Logger) error {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{"h3"},
	}

	cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	server := &http3.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: tlsConfig,
	}

	fallbackServer := &http.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: tlsConfig,
	}

	go func() {
		log.Info("starting HTTP/2 TLS fallback server", map[string]interface{}{"addr": addr})
		if err := fallbackServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP/2 fallback server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	go handleShutdown(ctx, server, fallbackServer, gw, log)

	log.Info("server started", map[string]interface{}{
		"http3": "https://" + addr,
		"http2": "https://" + addr,
		"ws":    "wss://" + addr + "/ws",
	})

	return server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
}

func startHTTP2Server(ctx context.Context, addr string, cfg *config.Config, handler http.Handler, gw *gateway.Gateway, log logger.Logger) error {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go handleShutdown(ctx, nil, server, gw, log)

	log.Info("server started", map[string]interface{}{"http": "http://" + addr, "ws": "ws://" + addr + "/ws"})

	return server.ListenAndServe()
}

// handleShutdown runs the graceful-shutdown sequence: stop
// accepting new connections (the HTTP/2 server waits for in-flight HTTP
// requests, bounded by a timeout), then close every remaining WebSocket
// with 1001. In-flight WebSocket handler work, including orchestrator
// sends and persistence, is not waited for.
func handleShutdown(ctx context.Context, http3Server *http3.Server, http2Server *http.Server, gw *gateway.Gateway, log logger.Logger) {
	<-ctx.Done()
	log.Info("shutting down gracefully", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if http3Server != nil {
		if err := http3Server.Close(); err != nil {
			log.Error("HTTP/3 server shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}
	if http2Server != nil {
		if err := http2Server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP/2 server shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}

	gw.Drain(shutdownCtx, 30*time.Second)
	log.Info("server stopped", nil)
	os.Exit(0)
}

func generateTLSCertificates() error {
	fmt.Println("Please generate TLS certificates using:")
	fmt.Println("  openssl req -x509 -newkey rsa:4096 -keyout certs/server.key -out certs/server.crt -days 365 -nodes")
	return nil
}
