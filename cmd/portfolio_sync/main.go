package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"portfolio_sync/internal/app/provider"
	"portfolio_sync/internal/app/service"
	"portfolio_sync/internal/infrastructure/configloader"
	"portfolio_sync/internal/infrastructure/httpclient"
	"portfolio_sync/internal/infrastructure/network/client"
	networkdefinition "portfolio_sync/internal/infrastructure/network/definition"
	"portfolio_sync/internal/infrastructure/restapi"
	"portfolio_sync/internal/pkg/logger"
	"portfolio_sync/internal/pkg/metrics"
	"portfolio_sync/internal/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfgPath := utils.GetEnv("CONFIG_PATH", "config/config.yml")
	cfg, err := configloader.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger.SetSlogDefault(zapLogger)

	zapLogger.Info("Configuration loaded", zap.String("path", cfgPath), zap.String("network", cfg.Network.Identifier))

	// Prometheus
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	networks, err := networkdefinition.NewNetworkDefinitionProvider(
		logger.NewAdapter(zapLogger.Named("NetworkDefinitionProvider")),
		cfg.Network.Identifier,
		cfg.Network.RPCURL,
	)
	if err != nil {
		zapLogger.Fatal("Failed to resolve network", zap.Error(err))
	}
	network := networks.Active()

	tokenProvider := provider.NewTokenProvider(cfg.Tokens.RegistryFile, logger.NewAdapter(zapLogger.Named("TokenProvider")))
	zapLogger.Info("Token registry loaded", zap.Int("tokens", len(tokenProvider.GetTokens())))

	ledger := client.NewSolanaClient(network, cfg.Ledger, zapLogger)
	prices := httpclient.NewCoinGeckoClient(cfg.PriceSource, network, tokenProvider, zapLogger)

	quoteCache := service.NewQuoteCache(prices, cfg.QuoteCache,
		logger.NewAdapter(zapLogger.Named("QuoteCache")),
		service.WithQuoteMetrics(recorder))
	discoverer := service.NewAccountDiscoverer(ledger, cfg.Ledger.TokenPrograms,
		logger.NewAdapter(zapLogger.Named("AccountDiscoverer")), recorder)
	portfolioSvc := service.NewPortfolioService(discoverer, quoteCache,
		logger.NewAdapter(zapLogger.Named("PortfolioService")), recorder,
		cfg.Portfolio.DefaultCurrency, cfg.Portfolio.MaxConcurrentQuotes)
	historySvc := service.NewHistoryService(ledger, portfolioSvc, quoteCache,
		logger.NewAdapter(zapLogger.Named("HistoryService")), recorder,
		cfg.History, cfg.Portfolio.DefaultCurrency)
	scheduler := service.NewPollingScheduler(portfolioSvc, quoteCache, cfg.Polling,
		logger.NewAdapter(zapLogger.Named("PollingScheduler")), recorder)

	wallets, err := provider.NewWalletProvider(cfg.Wallets.WatchFile, logger.NewAdapter(zapLogger.Named("WalletProvider"))).GetWallets()
	if err != nil {
		zapLogger.Error("Failed to load watch list", zap.Error(err))
	}
	for _, w := range wallets {
		if _, err := scheduler.StartSession(w.Address, cfg.Portfolio.DefaultCurrency); err != nil {
			zapLogger.Warn("Failed to start session for watched wallet", zap.String("owner", w.Address), zap.Error(err))
		}
	}

	router := restapi.SetupRouter(cfg.Server, restapi.Handlers{
		Portfolio: restapi.NewPortfolioHandler(portfolioSvc, cfg.Portfolio.DefaultCurrency, zapLogger),
		History:   restapi.NewHistoryHandler(historySvc, zapLogger),
		Sessions:  restapi.NewSessionHandler(scheduler, cfg.Portfolio.DefaultCurrency, zapLogger),
		Quotes:    restapi.NewQuoteHandler(quoteCache, cfg.Portfolio.DefaultCurrency),
	}, reg, zapLogger)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info(fmt.Sprintf("Server starting on port %s", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	scheduler.StopAll()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exiting")
}
