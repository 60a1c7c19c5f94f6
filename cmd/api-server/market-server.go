package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"marketplace/db"
	"marketplace/db/migrations"
	"marketplace/internal/config"
	"marketplace/internal/dispute"
	"marketplace/internal/handlers"
	"marketplace/internal/ledger"
	"marketplace/internal/logging"
	"marketplace/internal/notify"
	"marketplace/internal/order"
	"marketplace/internal/rfq"
	"marketplace/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func main() {
	logger := logging.Setup()
	cfg := config.Load()

	dbConn, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Cannot connect to DB: %v", err)
	}
	defer dbConn.Close()
	dbConn.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbConn.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	migrations.Run(cfg.Database.URL)

	store := db.NewStorage(dbConn)

	rates := ledger.Rates{
		Tiers: map[string]decimal.Decimal{
			"featured": cfg.Marketplace.CommissionFeatured,
			"special":  cfg.Marketplace.CommissionSpecial,
			"premium":  cfg.Marketplace.CommissionPremium,
		},
		Default: cfg.Marketplace.CommissionDefault,
	}

	ldg := ledger.NewService(store, rates, logger)

	router := notify.NewRouter(store, []notify.Channel{
		notify.NewLogChannel("push", logger),
		notify.NewLogChannel("email", logger),
		notify.NewLogChannel("sms", logger),
	}, cfg.Marketplace.ChannelSendTimeout, logger)

	orders := order.NewEngine(store, router, rates, cfg.Marketplace.DisputeWindow, logger)
	rfqs := rfq.NewEngine(store, orders, router, logger)
	disputes := dispute.NewEngine(store, router, dispute.Policy{
		ResponseWindow:      cfg.Marketplace.DisputeResponseWindow,
		MaxContestRounds:    cfg.Marketplace.MaxContestRounds,
		TimeoutFavorsOpener: cfg.Marketplace.TimeoutFavorsOpener,
	}, logger)

	sweeper := &scheduler.Sweeper{
		Orders:   orders,
		RFQs:     rfqs,
		Disputes: disputes,
		Interval: cfg.Marketplace.SweepInterval,
		Logger:   logger,
	}
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	h := handlers.NewHandler(orders, rfqs, disputes, ldg, store)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		// заказы
		r.Post("/orders", h.PlaceOrderHandler)
		r.Get("/orders", h.ListOrdersHandler)
		r.Get("/orders/{orderId}", h.GetOrderHandler)
		r.Post("/orders/{orderId}/confirm", h.ConfirmOrderHandler)
		r.Post("/orders/{orderId}/prepare", h.PrepareOrderHandler)
		r.Post("/orders/{orderId}/ship", h.ShipOrderHandler)
		r.Post("/orders/{orderId}/deliver", h.DeliverOrderHandler)
		r.Post("/orders/{orderId}/cancel", h.CancelOrderHandler)
		r.Post("/orders/{orderId}/close", h.CloseOrderHandler)
		r.Get("/orders/{orderId}/disputes", h.ListOrderDisputesHandler)
		// запросы предложений
		r.Post("/rfqs", h.CreateRFQHandler)
		r.Get("/rfqs", h.ListRFQsHandler)
		r.Get("/rfqs/{rfqId}", h.GetRFQHandler)
		r.Post("/rfqs/{rfqId}/publish", h.PublishRFQHandler)
		r.Post("/rfqs/{rfqId}/cancel", h.CancelRFQHandler)
		r.Post("/rfqs/{rfqId}/offers", h.SubmitOfferHandler)
		r.Delete("/rfqs/{rfqId}/offers/{offerId}", h.WithdrawOfferHandler)
		r.Post("/rfqs/{rfqId}/offers/{offerId}/accept", h.AcceptOfferHandler)
		r.Post("/rfqs/{rfqId}/proforma", h.IssueProformaHandler)
		r.Post("/rfqs/{rfqId}/deposit", h.RecordDepositHandler)
		r.Post("/rfqs/{rfqId}/production/complete", h.CompleteProductionHandler)
		// споры
		r.Post("/disputes", h.OpenDisputeHandler)
		r.Get("/disputes/{disputeId}", h.GetDisputeHandler)
		r.Post("/disputes/{disputeId}/respond", h.RespondDisputeHandler)
		r.Post("/disputes/{disputeId}/mediate", h.ProposeMediationHandler)
		r.Post("/disputes/{disputeId}/decide", h.DecideDisputeHandler)
		r.Post("/disputes/{disputeId}/withdraw", h.WithdrawDisputeHandler)
		// счёт продавца
		r.Get("/sellers/{sellerId}/balance", h.GetBalanceHandler)
		r.Get("/sellers/{sellerId}/ledger", h.ListLedgerEntriesHandler)
		r.Post("/sellers/{sellerId}/payouts", h.RequestPayoutHandler)
		// уведомления
		r.Get("/users/{userId}/notifications", h.ListNotificationsHandler)
		r.Post("/users/{userId}/notifications/{notificationId}/read", h.MarkNotificationReadHandler)
		r.Put("/users/{userId}/preferences", h.UpsertPreferenceHandler)
		r.Put("/users/{userId}/mute", h.SetMuteHandler)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	log.Printf("Starting server on %s", cfg.Server.Addr)
	log.Fatal(srv.ListenAndServe())
}
