package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lanternwallet/lantern-agent/internal/activity"
	"github.com/lanternwallet/lantern-agent/internal/backend"
	"github.com/lanternwallet/lantern-agent/internal/chains"
	"github.com/lanternwallet/lantern-agent/internal/connect"
	"github.com/lanternwallet/lantern-agent/internal/engine"
	"github.com/lanternwallet/lantern-agent/internal/keys"
	"github.com/lanternwallet/lantern-agent/internal/server"
)

var serveFlags struct {
	passphraseEnv string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wallet agent",
	Long: `Start the loopback HTTP server the browser extension talks to.

The wallet key is loaded from the keystore directory configured under
keystorePath; run "lantern-agent key generate" or "lantern-agent key import"
first. The keystore passphrase is read from the environment variable named
by --passphrase-env.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveFlags.passphraseEnv, "passphrase-env", "LANTERN_PASSPHRASE", "environment variable holding the keystore passphrase")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadedCfg
	logger.Info("lantern-agent starting",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_date", BuildDate),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	passphrase := os.Getenv(serveFlags.passphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("keystore passphrase not set (export %s)", serveFlags.passphraseEnv)
	}
	wallet, err := keys.Load(cfg.KeystorePath, passphrase)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	logger.Info("wallet loaded", zap.String("address", wallet.Address().Hex()))

	chainSvc, err := chains.NewService(ctx, cfg.Networks, cfg.ActiveNetwork)
	if err != nil {
		return fmt.Errorf("init chains: %w", err)
	}
	defer chainSvc.Close()

	db, err := activity.OpenDB(cfg.ActivityDBPath)
	if err != nil {
		return fmt.Errorf("open activity db: %w", err)
	}
	defer db.Close()
	activityStore := activity.NewStore(db, logger)

	connections := connect.NewStore(cfg.ConnectionsPath)
	if err := connections.Load(); err != nil {
		return fmt.Errorf("load connections: %w", err)
	}

	b := backend.New(wallet, chainSvc, activityStore, cfg.Gas.MaxFeeCapGwei, logger)

	pending := engine.NewPendingTable(logger)
	pending.StartSweep(ctx)
	defer pending.StopSweep()

	router := engine.NewRouter(b, connections, pending, logger)

	poller := activity.NewPoller(activityStore, chainSvc, logger)
	poller.Start(ctx)
	defer poller.Stop()

	tokenPath := filepath.Join(cfg.DataDir, "session-token")
	srv, err := server.New(router, b, chainSvc, activityStore, connections,
		tokenPath, cfg.Server.UIAllowedOrigins, logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	errLog, _ := zap.NewStdLogAt(logger.Named("http"), zapcore.ErrorLevel)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ErrorLog:          errLog,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	fmt.Printf("agent listening on http://%s\n", addr)
	fmt.Printf("session token: %s\n", srv.SessionToken())

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	} else {
		logger.Info("http server gracefully stopped")
	}
	return nil
}
