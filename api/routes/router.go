package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mandiflow/produce-backend/api/controllers"
	"github.com/mandiflow/produce-backend/api/middleware"
	"github.com/mandiflow/produce-backend/internal/ledger"
	"github.com/mandiflow/produce-backend/internal/orders"
	"github.com/mandiflow/produce-backend/pkg/config"
	"github.com/mandiflow/produce-backend/pkg/logger"
)

// NewRouter wires the HTTP surface: health probes plus the order lifecycle
// endpoints behind the forwarded-actor check.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	database controllers.Pinger,
	cache controllers.Pinger,
	ordersSvc orders.Service,
	ledgerSvc ledger.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, database, cache))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ActorContext(logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(ordersSvc, logg))
			r.Post("/", controllers.CreateOrder(ordersSvc, logg))
			r.Get("/{orderId}", controllers.GetOrder(ordersSvc, logg))
			r.Put("/{orderId}/prices", controllers.UpdateOrderPrices(ordersSvc, logg))
			r.Post("/{orderId}/payment", controllers.RecordPayment(ordersSvc, logg))
			r.Post("/{orderId}/status", controllers.TransitionOrderStatus(ordersSvc, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(ordersSvc, logg))
			r.Get("/{orderId}/ledger", controllers.OrderLedger(ledgerSvc, logg))
		})

		r.Get("/customers/{customerId}/ledger", controllers.CustomerLedger(ledgerSvc, logg))
	})

	return r
}
