package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/acme/autocert"

	"github.com/warasat/Chat-Application/internal/auth"
	"github.com/warasat/Chat-Application/internal/calllog"
	"github.com/warasat/Chat-Application/internal/config"
	"github.com/warasat/Chat-Application/internal/database"
	"github.com/warasat/Chat-Application/internal/handlers"
	"github.com/warasat/Chat-Application/internal/presence"
	"github.com/warasat/Chat-Application/internal/push"
	"github.com/warasat/Chat-Application/internal/relay"
	"github.com/warasat/Chat-Application/internal/room"
	"github.com/warasat/Chat-Application/internal/turn"
)

const AppVersion = "1.0.0"

func main() {
	httpOnly := flag.Bool("http-only", false, "Serve plain HTTP behind an external frontend/proxy")
	selfSigned := flag.Bool("self-signed", false, "Serve HTTPS with a generated self-signed certificate")
	flag.Parse()

	cfg, err := config.Load(httpOnly)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("chat server starting", "version", AppVersion)

	if cfg.HTTPOnly && cfg.FrontendURI == "" {
		logger.Error("FRONTEND_URI is required with --http-only")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		logger.Error("database init failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	turnServer, err := turn.Start(cfg.TURNPort, cfg.TURNRealm, logger)
	if err != nil {
		logger.Error("turn server start failed", "error", err)
		os.Exit(1)
	}
	defer turnServer.Close()

	hub := relay.NewHub(logger)
	registry := presence.NewRegistry()
	calls := calllog.New(db, hub, logger)
	notifier := push.NewNotifier(db, cfg.VAPIDKeys, logger)
	authMgr := auth.NewManager(cfg.JWTSecret)
	coord := room.NewCoordinator(hub, registry, calls, notifier, cfg.NoAnswerTimeout, logger)

	h := handlers.New(cfg, db, hub, coord, registry, calls, turnServer, notifier, authMgr, logger)

	router := setupRouter(h, logger)
	startServer(router, cfg, *selfSigned, logger)
}

func setupRouter(h *handlers.Handlers, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(slogGinLogger(logger), gin.Recovery())
	h.Register(router)
	return router
}

func startServer(router *gin.Engine, cfg *config.Config, selfSigned bool, logger *slog.Logger) {
	if cfg.HTTPOnly {
		startHTTP(router, cfg, logger)
		return
	}
	if selfSigned {
		startSelfSignedHTTPS(router, cfg, logger)
		return
	}
	startAutocertHTTPS(router, cfg, logger)
}

func startHTTP(router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("http server starting", "port", cfg.HTTPPort, "frontend", cfg.FrontendURI)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
	}
}

func startSelfSignedHTTPS(router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	hosts := []string{"localhost"}
	if cfg.Domain != "" {
		hosts = []string{cfg.Domain}
	}

	certPEM, keyPEM, err := generateSelfSignedCert(hosts)
	if err != nil {
		logger.Error("self-signed certificate generation failed", "error", err)
		return
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		logger.Error("self-signed certificate load failed", "error", err)
		return
	}

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPSPort,
		Handler: router,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go redirectToHTTPS(cfg, logger)

	logger.Info("https server starting (self-signed)", "port", cfg.HTTPSPort, "hosts", strings.Join(hosts, ","))
	if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("https server failed", "error", err)
	}
}

func startAutocertHTTPS(router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	certsDir := certsDirectory()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		logger.Error("certs directory creation failed", "path", certsDir, "error", err)
		return
	}

	domain := normalizeDomain(cfg.Domain)
	if domain == "localhost" || domain == "127.0.0.1" {
		logger.Warn("ACME will not issue for localhost; use --self-signed for local development")
	}

	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(_ context.Context, host string) error {
			if normalizeDomain(host) != domain {
				return fmt.Errorf("host %q not configured", host)
			}
			return nil
		},
		Cache: autocert.DirCache(certsDir),
	}

	// Port 80 answers ACME challenges and redirects the rest.
	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/.well-known/acme-challenge/") {
			m.HTTPHandler(nil).ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
	})

	errorLog := log.New(newTLSErrorWriter(logger), "", 0)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     errorLog,
	}
	httpsSrv := &http.Server{
		Addr:         ":" + cfg.HTTPSPort,
		Handler:      router,
		TLSConfig:    m.TLSConfig(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     errorLog,
	}

	go func() {
		logger.Info("http server starting (ACME challenges, redirects)", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("https server starting", "port", cfg.HTTPSPort, "domain", domain, "certs_dir", certsDir)
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("https server failed", "error", err)
	}
}

func redirectToHTTPS(cfg *config.Config, logger *slog.Logger) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if idx := strings.Index(host, ":"); idx != -1 {
			host = host[:idx]
		}
		target := "https://" + host + ":" + cfg.HTTPSPort + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: handler}
	logger.Info("http redirect server starting", "port", cfg.HTTPPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http redirect server failed", "error", err)
	}
}

func certsDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "certs"
	}
	return filepath.Join(filepath.Dir(execPath), "certs")
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}
