package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/boostclear/internal/auction"
	"github.com/wolfeidau/boostclear/internal/models"
)

// BidSubmitter records bids.
type BidSubmitter interface {
	SubmitBid(ctx context.Context, in auction.SubmitBidInput) (*auction.SubmitBidResult, error)
}

// Handler serves the bidding API.
type Handler struct {
	bids     BidSubmitter
	settings auction.SettingsResolver
	now      func() time.Time
}

func NewHandler(bids BidSubmitter, settings auction.SettingsResolver) *Handler {
	return &Handler{bids: bids, settings: settings, now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireUserID())
		r.Post("/bids", h.submitBid)
		r.Get("/auction/{placement}/{locale}", h.auctionInfo)
	})
}

type submitBidRequest struct {
	Placement        models.Placement  `json:"placement"`
	Locale           models.Locale     `json:"locale"`
	BidAmountCredits int64             `json:"bidAmountCredits"`
	AutoRollover     bool              `json:"autoRollover"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	MinBidCredits *int64 `json:"minBidCredits,omitempty"`
}

type auctionInfoResponse struct {
	Placement          models.Placement `json:"placement"`
	Locale             models.Locale    `json:"locale"`
	Settings           auction.Settings `json:"settings"`
	AuctionWindowStart time.Time        `json:"auctionWindowStart"`
	AuctionWindowEnd   time.Time        `json:"auctionWindowEnd"`
	BoostStartsAt      time.Time        `json:"boostStartsAt"`
	BoostEndsAt        time.Time        `json:"boostEndsAt"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) submitBid(w http.ResponseWriter, r *http.Request) {
	var req submitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body", nil)
		return
	}

	res, err := h.bids.SubmitBid(r.Context(), auction.SubmitBidInput{
		UserID:           UserIDFromContext(r.Context()),
		Placement:        req.Placement,
		Locale:           req.Locale,
		BidAmountCredits: req.BidAmountCredits,
		AutoRollover:     req.AutoRollover,
		Extra:            req.Metadata,
		Now:              h.now(),
	})
	if err != nil {
		h.writeBidError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) writeBidError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *auction.BidValidationError
	var tooLowErr *auction.BidTooLowError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "invalid_bid", validationErr.Error(), nil)
	case errors.Is(err, auction.ErrUnsupportedLocale), errors.Is(err, auction.ErrUnsupportedPlacement):
		writeError(w, http.StatusBadRequest, "unsupported_market", err.Error(), nil)
	case errors.Is(err, auction.ErrAuctionDisabled):
		writeError(w, http.StatusConflict, "auction_disabled", "bidding is closed", nil)
	case errors.As(err, &tooLowErr):
		minBid := tooLowErr.MinBidCredits
		writeError(w, http.StatusUnprocessableEntity, "bid_too_low", tooLowErr.Error(), &minBid)
	case errors.Is(err, auction.ErrBidConflict):
		writeError(w, http.StatusConflict, "bid_conflict", "you already have a bid this round", nil)
	case errors.Is(err, auction.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this bid", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Bid submission failed")
		writeError(w, http.StatusInternalServerError, "internal", "failed to submit bid", nil)
	}
}

func (h *Handler) auctionInfo(w http.ResponseWriter, r *http.Request) {
	placement := models.Placement(chi.URLParam(r, "placement"))
	locale := models.Locale(chi.URLParam(r, "locale"))

	if !placement.Supported() || !locale.Supported() {
		writeError(w, http.StatusNotFound, "unsupported_market", "no auction for "+string(placement)+"/"+string(locale), nil)
		return
	}

	settings, err := h.settings.Resolve(r.Context(), locale, placement, UserIDFromContext(r.Context()))
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to resolve auction settings")
		writeError(w, http.StatusInternalServerError, "internal", "failed to load auction settings", nil)
		return
	}

	windowStart := auction.WindowStart(h.now(), settings.WindowMinutes)
	boostStartsAt, boostEndsAt := auction.BoostTiming(windowStart, settings.WindowMinutes, settings.DurationMinutes)

	writeJSON(w, http.StatusOK, auctionInfoResponse{
		Placement:          placement,
		Locale:             locale,
		Settings:           settings,
		AuctionWindowStart: windowStart,
		AuctionWindowEnd:   auction.NextWindowStart(windowStart, settings.WindowMinutes),
		BoostStartsAt:      boostStartsAt,
		BoostEndsAt:        boostEndsAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, minBid *int64) {
	writeJSON(w, status, errorResponse{Error: code, Message: message, MinBidCredits: minBid})
}
