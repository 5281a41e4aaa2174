package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"keyless-recovery/internal/config"
	"keyless-recovery/internal/factory"
	"keyless-recovery/internal/handler"
	"keyless-recovery/internal/util"
)

var flags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:    "env-file",
		Usage:   "dotenv files to load before reading the environment",
		EnvVars: []string{"ENV_FILE"},
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "override LOG_LEVEL (debug, info, warn, error)",
	},
	&cli.StringFlag{
		Name:  "store",
		Usage: "override STORE_BACKEND (scylla or memory)",
	},
}

func main() {
	app := &cli.App{
		Name:   "keyless-recovery",
		Usage:  "Serve the OTP-based keyless wallet recovery API",
		Flags:  flags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	cfg := config.LoadConfig(cCtx.StringSlice("env-file")...)
	if level := cCtx.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if store := cCtx.String("store"); store != "" {
		cfg.Store.Backend = store
	}

	// Initialize factory (which initializes all clients)
	f, err := factory.NewFactory(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize factory: %w", err)
	}
	defer f.Close()

	f.StartJanitor()

	router := setupRouter(f)

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().GetTLSConfig()

		if cfg.IsProduction() && cfg.Server.AutoCert {
			return startProductionServerWithAutoCert(f, server, cfg, router)
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	return startServer(f, server, cfg)
}

// setupRouter wires the services into the HTTP handlers
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	services := f.ServiceFactory()
	sessions := services.SessionService()

	otpHandler := handler.NewOTPHandler(services.OTPService(), util.Get())
	backupHandler := handler.NewBackupHandler(services.BackupService(), sessions, util.Get())

	return handler.NewRouter(otpHandler, backupHandler, handler.RouterOptions{
		RequireHTTPS:   cfg.Server.EnableTLS,
		AllowedOrigins: cfg.Server.CORSOrigins,
		ClientGuard:    handler.ClientTokenGuard(f.Signer(), cfg.RequireClientToken, f.Auditor(), util.Get()),
		Health:         f,
	}, util.Get())
}

func startProductionServerWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config, router http.Handler) error {
	autoCertManager := f.TLSManager().GetAutocertManager()
	if autoCertManager == nil {
		return fmt.Errorf("autocert manager is not available in production")
	}

	// HTTP server for ACME challenge and redirect only
	httpServer := &http.Server{
		Addr:    ":80",
		Handler: autoCertManager.HTTPHandler(nil),
	}

	httpsServer := &http.Server{
		Addr:         ":443",
		Handler:      router,
		TLSConfig:    server.TLSConfig,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		util.Info("Starting HTTP redirect server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("HTTP redirect server failed", util.ErrorField(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert on port 443",
			util.String("domain", cfg.Server.Domain),
		)
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			util.Error("HTTPS AutoCert server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, httpsServer, httpServer)
	return nil
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			// certificates come from the TLS manager
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-waitForSignal():
	}
	shutdown(f, server)
	return nil
}

func waitForSignal() <-chan os.Signal {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return signalChan
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	sig := <-waitForSignal()
	util.Info("Received shutdown signal", util.String("signal", sig.String()))
	shutdown(f, servers...)
}

func shutdown(f *factory.Factory, servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
			} else {
				util.Info("Server shutdown completed")
			}
		}
	}
	f.Close()
}
