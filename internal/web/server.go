package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// AccountHeader carries the caller account of mutating requests.
const AccountHeader = "X-Account"

const maxBodyBytes = 1 << 16

// Marketplace is the engine surface served over HTTP.
type Marketplace interface {
	List(ctx context.Context, key domain.AssetKey, price *uint256.Int, caller common.Address) (domain.Event, error)
	Buy(ctx context.Context, key domain.AssetKey, caller common.Address, payment *uint256.Int) (domain.Event, error)
	Cancel(ctx context.Context, key domain.AssetKey, caller common.Address) (domain.Event, error)
	Update(ctx context.Context, key domain.AssetKey, newPrice *uint256.Int, caller common.Address) (domain.Event, error)
	WithdrawProceeds(ctx context.Context, caller common.Address) (domain.Event, error)
	WithdrawTreasury(ctx context.Context, caller common.Address) (domain.Event, error)

	GetListed(key domain.AssetKey) domain.Listing
	Listings() []domain.ActiveListing
	GetProceeds(account common.Address) *uint256.Int
	GetTreasuryBalance() *uint256.Int
	GetMarketFee(price *uint256.Int) *uint256.Int
	GetRoyaltyData(ctx context.Context, key domain.AssetKey, price *uint256.Int) (common.Address, *uint256.Int, error)
	Operator() common.Address
	FeeRate() domain.FeeRate
}

type eventReader interface {
	EventsAfter(seq uint64) ([]domain.Event, error)
}

type eventSubscriber interface {
	Subscribe() chan domain.Event
	Unsubscribe(ch chan domain.Event)
}

// Server exposes the marketplace queries, simulation mutations and an SSE event stream.
type Server struct {
	Addr   string
	Market Marketplace
	Events eventReader
	Live   eventSubscriber
	logger *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, market Marketplace, events eventReader, live eventSubscriber, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, Market: market, Events: events, Live: live, logger: logger}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /listings", s.handleListings)
	mux.HandleFunc("GET /listings/{collection}/{id}", s.handleGetListing)
	mux.HandleFunc("POST /listings", s.handleList)
	mux.HandleFunc("PUT /listings/{collection}/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /listings/{collection}/{id}", s.handleCancel)
	mux.HandleFunc("POST /listings/{collection}/{id}/buy", s.handleBuy)
	mux.HandleFunc("GET /proceeds/{account}", s.handleProceeds)
	mux.HandleFunc("POST /withdrawals", s.handleWithdraw)
	mux.HandleFunc("GET /treasury", s.handleTreasury)
	mux.HandleFunc("POST /treasury/withdrawals", s.handleWithdrawTreasury)
	mux.HandleFunc("GET /fee", s.handleFee)
	mux.HandleFunc("GET /royalty/{collection}/{id}", s.handleRoyalty)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server started", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http (acme) server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http (acme) server", zap.Error(err))
		}
	}()

	s.logger.Info("https server started", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"operator": s.Market.Operator().Hex(),
		"fee_bps":  s.Market.FeeRate().Bps(),
		"listings": len(s.Market.Listings()),
		"treasury": s.Market.GetTreasuryBalance().Dec(),
	})
}

func (s *Server) handleListings(w http.ResponseWriter, _ *http.Request) {
	active := s.Market.Listings()
	out := make([]listingResponse, 0, len(active))
	for _, a := range active {
		out = append(out, newListingResponse(a.Key, a.Listing))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, newListingResponse(key, s.Market.GetListed(key)))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req listRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key, err := domain.ParseAssetKey(req.Collection, req.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := domain.ParseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	event, err := s.Market.List(r.Context(), key, price, caller)
	s.writeEvent(w, http.StatusCreated, event, err)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := domain.ParseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	event, err := s.Market.Update(r.Context(), key, price, caller)
	s.writeEvent(w, http.StatusOK, event, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	event, err := s.Market.Cancel(r.Context(), key, caller)
	s.writeEvent(w, http.StatusOK, event, err)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := domain.ParseAmount(req.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	event, err := s.Market.Buy(r.Context(), key, caller, payment)
	s.writeEvent(w, http.StatusOK, event, err)
}

func (s *Server) handleProceeds(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Account: account.Hex(),
		Amount:  s.Market.GetProceeds(account).Dec(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	event, err := s.Market.WithdrawProceeds(r.Context(), caller)
	s.writeEvent(w, http.StatusOK, event, err)
}

func (s *Server) handleTreasury(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, balanceResponse{
		Account: s.Market.Operator().Hex(),
		Amount:  s.Market.GetTreasuryBalance().Dec(),
	})
}

func (s *Server) handleWithdrawTreasury(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	event, err := s.Market.WithdrawTreasury(r.Context(), caller)
	s.writeEvent(w, http.StatusOK, event, err)
}

func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	price, err := domain.ParseAmount(r.URL.Query().Get("price"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, feeResponse{
		Price:  price.Dec(),
		FeeBps: s.Market.FeeRate().Bps(),
		Fee:    s.Market.GetMarketFee(price).Dec(),
	})
}

func (s *Server) handleRoyalty(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := domain.ParseAmount(r.URL.Query().Get("price"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receiver, amount, err := s.Market.GetRoyaltyData(r.Context(), key, price)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, royaltyResponse{
		Collection: key.Collection.Hex(),
		TokenID:    key.TokenID.Dec(),
		Price:      price.Dec(),
		Receiver:   receiver.Hex(),
		Royalty:    amount.Dec(),
	})
}

func (s *Server) writeEvent(w http.ResponseWriter, status int, event domain.Event, err error) {
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, status, event)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("marketplace request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

func pathKey(r *http.Request) (domain.AssetKey, error) {
	return domain.ParseAssetKey(r.PathValue("collection"), r.PathValue("id"))
}

func callerOf(r *http.Request) (common.Address, error) {
	v := strings.TrimSpace(r.Header.Get(AccountHeader))
	if v == "" {
		return common.Address{}, errors.Errorf("%s header is required", AccountHeader)
	}
	return parseAccount(v)
}

func parseAccount(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.Errorf("invalid account %q", v)
	}
	return common.HexToAddress(v), nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// parseLastEventID extracts an SSE event ID from either the Last-Event-ID header or a query parameter.
func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
