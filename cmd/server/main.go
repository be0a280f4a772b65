package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/api"
	"github.com/lalith-99/shopnet/internal/chat"
	"github.com/lalith-99/shopnet/internal/config"
	"github.com/lalith-99/shopnet/internal/employees"
	"github.com/lalith-99/shopnet/internal/filedb"
	"github.com/lalith-99/shopnet/internal/inventory"
	"github.com/lalith-99/shopnet/internal/loyalty"
	"github.com/lalith-99/shopnet/internal/middleware"
	"github.com/lalith-99/shopnet/internal/observ"
	"github.com/lalith-99/shopnet/internal/sales"
	"github.com/lalith-99/shopnet/internal/server"
	"github.com/lalith-99/shopnet/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observ.NewMetrics(registry)

	// Flat-file record stores. Durability is best effort; the
	// in-memory stores own the data while the process runs.
	productDB, err := filedb.Open(filepath.Join(cfg.DataDir, "products.txt"))
	if err != nil {
		return err
	}
	customerDB, err := filedb.Open(filepath.Join(cfg.DataDir, "customers.txt"))
	if err != nil {
		return err
	}
	employeeDB, err := filedb.Open(filepath.Join(cfg.DataDir, "employees.txt"))
	if err != nil {
		return err
	}

	ledger, err := inventory.NewLedger(productDB, logger)
	if err != nil {
		return err
	}
	policy := loyalty.Policy{
		VIPDiscountPct:       cfg.VIPDiscountPct,
		ReturningDiscountPct: cfg.ReturningDiscountPct,
		ReturningThreshold:   cfg.ReturningThreshold,
		VIPThreshold:         cfg.VIPThreshold,
	}
	customers, err := loyalty.NewStore(customerDB, policy, logger)
	if err != nil {
		return err
	}
	directory, err := employees.NewDirectory(employeeDB, logger)
	if err != nil {
		return err
	}

	sessions := session.NewRegistry(logger)
	salesSvc := sales.NewService(policy)
	broker := chat.NewBroker(logger, metrics)

	storeSrv := server.NewStoreServer(
		sessions, directory, ledger, customers, salesSvc,
		cfg.AdminUser, cfg.AdminPassword, logger, metrics,
	)
	chatSrv := server.NewChatServer(broker, logger)

	storeLn, err := net.Listen("tcp", cfg.StoreAddr)
	if err != nil {
		return fmt.Errorf("listen store %s: %w", cfg.StoreAddr, err)
	}
	chatLn, err := net.Listen("tcp", cfg.ChatAddr)
	if err != nil {
		return fmt.Errorf("listen chat %s: %w", cfg.ChatAddr, err)
	}

	errCh := make(chan error, 3)
	go func() { errCh <- storeSrv.Serve(storeLn) }()
	go func() { errCh <- chatSrv.Serve(chatLn) }()

	// HTTP ops surface: health and metrics are public, the status
	// snapshots sit behind the JWT middleware.
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Recovery())

	ops := api.NewOpsHandler(
		sessions, ledger, customers, broker, directory,
		cfg.AdminUser, cfg.AdminPassword, cfg.JWTSecret, logger,
	)
	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	srv.POST("/v1/auth/login", ops.Login)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	v1.GET("/status", ops.Status)
	v1.GET("/sessions", ops.Sessions)
	v1.GET("/employees", ops.ListEmployees)
	v1.POST("/employees", ops.CreateEmployee)
	v1.DELETE("/employees/:id", ops.DeleteEmployee)

	httpSrv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: srv}
	go func() { errCh <- httpSrv.ListenAndServe() }()

	logger.Info("shopnet started",
		zap.String("store_addr", storeLn.Addr().String()),
		zap.String("chat_addr", chatLn.Addr().String()),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("env", cfg.Env),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	// Drain in order: stop accepting, close live connections (which
	// releases sessions and tears down chat state), then the HTTP
	// listener.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	storeSrv.Shutdown()
	chatSrv.Shutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
