package sim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/okamiya/dexrig/pkg/venue/meridex"
)

// Server exposes an Engine over the meridex REST API plus a WebSocket trade
// feed. It exists so connectors can be exercised end to end without touching
// a live venue.
type Server struct {
	engine *Engine
	router *mux.Router
	hub    *Hub
	http   *http.Server
	log    *zap.SugaredLogger
}

func NewServer(engine *Engine, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	engine.SetTradeSink(func(t meridex.TradeUpdate) {
		s.hub.BroadcastToChannel("trades:"+t.Market, t)
	})
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}", s.handleOrderStatus).Methods("GET")
	api.HandleFunc("/orders/{hash}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the full middleware-wrapped handler. Tests mount it on an
// httptest server; Start mounts it on a real listener.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown. The WebSocket hub runs alongside.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.http = &http.Server{Addr: addr, Handler: s.Handler()}
	if s.log != nil {
		s.log.Infow("venue listening", "addr", addr)
	}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// RunHub starts the hub loop without a listener. Used with Handler in tests.
func (s *Server) RunHub() { go s.hub.Run() }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Markets())
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		respondError(w, http.StatusBadRequest, "missing address", "")
		return
	}
	respondJSON(w, s.engine.Balances(address))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req meridex.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	resp, err := s.engine.PlaceOrder(req)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	var req meridex.CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	resp, err := s.engine.CancelOrder(hash, req)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, resp)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.OrderStatus(mux.Vars(r)["hash"])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("ws upgrade failed", "err", err)
		}
		return
	}

	client := &wsClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// ==============================
// Helpers
// ==============================

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		respondError(w, apiErr.Status, apiErr.Code, apiErr.Message)
		return
	}
	respondError(w, http.StatusInternalServerError, "internal error", err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(meridex.ErrorResponse{
		Error:   code,
		Message: message,
	})
}
