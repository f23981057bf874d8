package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mandiflow/produce-backend/api/responses"
	"github.com/mandiflow/produce-backend/internal/ledger"
	"github.com/mandiflow/produce-backend/pkg/db/models"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/logger"
)

type ledgerEntryResponse struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Type       string          `json:"type"`
	Amount     string          `json:"amount"`
	Actor      string          `json:"actor"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newLedgerEntryResponses(entries []models.LedgerEntry) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:         e.ID,
			CustomerID: e.CustomerID,
			OrderID:    e.OrderID,
			Type:       e.Type.String(),
			Amount:     e.Amount.String(),
			Actor:      e.Actor,
			Metadata:   e.Metadata,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

// OrderLedger returns the credit movements an order has caused, oldest first.
func OrderLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.EntriesForOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLedgerEntryResponses(entries))
	}
}

// CustomerLedger returns a customer's full credit movement history.
func CustomerLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, "customerId"))
		customerID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer id"))
			return
		}

		entries, err := svc.EntriesForCustomer(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLedgerEntryResponses(entries))
	}
}
