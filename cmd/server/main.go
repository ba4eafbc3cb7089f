package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/velvetapps/StarMarket/internal/config"
	"github.com/velvetapps/StarMarket/internal/database"
	"github.com/velvetapps/StarMarket/internal/httpapi"
	"github.com/velvetapps/StarMarket/internal/repository"
	"github.com/velvetapps/StarMarket/internal/service"
	"github.com/velvetapps/StarMarket/internal/socket"
	"github.com/velvetapps/StarMarket/internal/storage"
	"github.com/velvetapps/StarMarket/internal/telegram"
	"github.com/velvetapps/StarMarket/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	collectionRepo := repository.NewCollectionRepository(db)
	nftRepo := repository.NewNFTRepository(db)
	listingRepo := repository.NewListingRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	attributeRepo := repository.NewAttributeRepository(db)

	// The hub is both the websocket endpoint and the Notifier the services
	// push through; the router is attached after the services exist.
	hub := socket.NewHub(logr, nil)

	userService := service.NewUserService(userRepo, transactionRepo, hub)
	nftService := service.NewNFTService(nftRepo, collectionRepo, listingRepo, transferRepo, attributeRepo, hub,
		service.ListingBounds{Min: cfg.MinListingPrice, Max: cfg.MaxListingPrice}, cfg.S3PublicBaseURL)
	marketService := service.NewMarketService(db, logr, hub, service.MarketOptions{
		TransferFee: cfg.TransferFeeStars,
		UpgradeCost: cfg.UpgradeCostStars,
	})
	currencyService := service.NewCurrencyService(cfg.PriceAPIURL, cfg.PricePollSpec, cfg.PriceFallbackUSD, cfg.RequestTimeout, logr, hub)

	botService := telegram.NewService(cfg, botAPI, logr, userService)

	router := socket.NewRouter(logr, userService, nftService, marketService, currencyService, botService)
	hub.SetRouter(router)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	if err := currencyService.Start(ctx); err != nil {
		log.Fatalf("currency service: %v", err)
	}
	defer currencyService.Stop()

	server := httpapi.NewServer(cfg.ListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, nftService, botService, uploader, hub)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
