package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zaprent/depositapi/config"
	"github.com/zaprent/depositapi/controllers"
	"github.com/zaprent/depositapi/docgen"
	"github.com/zaprent/depositapi/escrow"
	"github.com/zaprent/depositapi/gateway"
	"github.com/zaprent/depositapi/models"
	"github.com/zaprent/depositapi/notify"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{})
	if err != nil {
		logger.Error("connecting to database failed", "error", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&models.DepositContract{}, &models.PaymentAttempt{}); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	store := escrow.NewStore(db)
	notifier := notify.NewLogNotifier(logger)

	docs, err := docgen.NewFileGenerator(cfg.DocumentDir)
	if err != nil {
		// Receipts are a side effect; the payment lifecycle runs
		// without them.
		logger.Warn("document generator unavailable", "error", err)
		docs = nil
	}

	var docGen escrow.DocumentGenerator
	if docs != nil {
		docGen = docs
	}
	dispatcher := escrow.NewDispatcher(docGen, notifier, store, logger)
	machine := escrow.NewMachine(store, dispatcher, logger)
	builder := escrow.NewBuilder(cfg.Gateway)
	parser := gateway.NewParser(cfg.Gateway)

	base := &controllers.Base{
		Store:       store,
		Machine:     machine,
		Builder:     builder,
		Parser:      parser,
		Notifier:    notifier,
		JWTSecret:   cfg.JWTSecret,
		ContractTTL: cfg.ContractTTL,
		Logger:      logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := escrow.NewSweeper(store, machine, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)

	r := gin.Default()

	r.GET("/healthz", base.Health)
	r.POST("/auth/token", base.IssueToken)

	r.POST("/contracts", base.CreateContract)
	r.GET("/contracts/:code", base.GetContract)
	r.POST("/contracts/:code/mark-paid", base.MarkPaid)
	r.POST("/contracts/:code/confirm", base.Confirm)
	r.POST("/contracts/:code/cancel", base.Cancel)

	r.POST("/webhooks/:channel", base.Webhook)

	r.GET("/admin/contracts/waiting", base.ListWaiting)

	logger.Info("deposit api listening", "port", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
