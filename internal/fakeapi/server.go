// Package fakeapi is an in-process POS backend used by integration tests. It
// issues JWT access tokens, serves the chat and retail REST endpoints and
// relays chat frames over a websocket.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL = 5 * time.Minute
	lowStockLimit    = 5
)

type userKey struct{}

type account struct {
	profile  domain.UserProfile
	password string
}

type injectedFailure struct {
	status int
	count  int
}

type Server struct {
	mu sync.Mutex

	http      *httptest.Server
	signKey   []byte
	accessTTL time.Duration
	now       func() time.Time

	accounts map[string]account
	access   map[string]string
	refresh  map[string]string

	messages []domain.Message
	products []domain.Product
	sales    []domain.Sale
	orders   []domain.PurchaseOrder
	credits  []domain.Credit
	deposits []domain.Deposit

	failures map[string]*injectedFailure
	calls    map[string]int
	refreshN int

	hub *hub
}

type Option func(*Server)

func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTTL = ttl }
}

// New starts the server. Callers must Close it.
func New(opts ...Option) *Server {
	s := &Server{
		signKey:   []byte("fakeapi-" + uuid.NewString()),
		accessTTL: defaultAccessTTL,
		now:       time.Now,
		accounts:  map[string]account{},
		access:    map[string]string{},
		refresh:   map[string]string{},
		failures:  map[string]*injectedFailure{},
		calls:     map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s)
	s.http = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countCalls)
	r.Use(s.injectFailures)

	r.Get("/ws/chat/", s.hub.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/token/", s.obtainToken)
		r.Post("/token/refresh/", s.refreshToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/users/me/", s.currentUser)

			r.Post("/chat/messages/", s.createMessage)
			r.Get("/chat/conversations/{peer}/", s.conversation)
			r.Put("/chat/conversations/{peer}/read/", s.markRead)

			r.Get("/products/", s.listProducts)
			r.Delete("/products/{id}/", s.deleteProduct)
			r.Get("/sales/", listHandler(s, func() any { return s.sales }))
			r.Get("/purchase-orders/", listHandler(s, func() any { return s.orders }))
			r.Patch("/purchase-orders/{id}/", s.updateOrder)
			r.Get("/credits/", listHandler(s, func() any { return s.credits }))
			r.Post("/credits/{id}/payments/", s.recordPayment)
			r.Get("/deposits/", listHandler(s, func() any { return s.deposits }))
			r.Get("/dashboard/summary/", s.summary)
		})
	})

	return r
}

// URL is the REST base URL, including the /api prefix.
func (s *Server) URL() string {
	return s.http.URL + "/api"
}

func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws/chat/"
}

func (s *Server) Close() {
	s.hub.closeAll()
	s.http.Close()
}

func (s *Server) AddUser(profile domain.UserProfile, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[profile.Username] = account{profile: profile, password: password}
}

func (s *Server) SeedProducts(products ...domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append(s.products, products...)
}

func (s *Server) SeedSales(sales ...domain.Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales = append(s.sales, sales...)
}

func (s *Server) SeedOrders(orders ...domain.PurchaseOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orders...)
}

func (s *Server) SeedCredits(credits ...domain.Credit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = append(s.credits, credits...)
}

func (s *Server) SeedDeposits(deposits ...domain.Deposit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deposits = append(s.deposits, deposits...)
}

// ExpireAccessTokens revokes every issued access token so the next
// authenticated request answers 401.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.access)
}

func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refresh)
}

// FailNext answers the next count requests to method+path with status.
func (s *Server) FailNext(method, path string, status, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = &injectedFailure{status: status, count: count}
}

// Calls reports how many requests hit method+path.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshN
}

func (s *Server) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *Server) Orders() []domain.PurchaseOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.orders)
}

func (s *Server) Credits() []domain.Credit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.credits)
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		failure := s.failures[r.Method+" "+r.URL.Path]
		status := 0
		if failure != nil && failure.count > 0 {
			failure.count--
			status = failure.status
		}
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]string{"detail": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) issueAccess(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return "", err
	}
	s.access[token] = userID
	return token, nil
}

// userForAccess validates signature and expiry, then checks the token was not
// revoked.
func (s *Server) userForAccess(token string) (domain.UserProfile, bool) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return domain.UserProfile{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.access[token]
	if !ok {
		return domain.UserProfile{}, false
	}
	return s.profileLocked(userID)
}

func (s *Server) profileLocked(userID string) (domain.UserProfile, bool) {
	for _, acc := range s.accounts {
		if acc.profile.ID == userID {
			return acc.profile, true
		}
	}
	return domain.UserProfile{}, false
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		user, ok := s.userForAccess(token)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type", "code": "token_not_valid"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (s *Server) obtainToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[req.Username]
	if !ok || acc.password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}

	access, err := s.issueAccess(acc.profile.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	refresh := uuid.NewString()
	s.refresh[refresh] = acc.profile.ID

	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshN++
	userID, ok := s.refresh[req.Refresh]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}

	access, err := s.issueAccess(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func listHandler(s *Server, items func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		payload, err := json.Marshal(items())
		s.mu.Unlock()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}
}

// listProducts answers with a paged envelope like the real backend does for
// large collections.
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	products := slices.Clone(s.products)
	s.mu.Unlock()
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(products), "next": nil, "results": products})
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.products, func(p domain.Product) bool { return p.ID == id })
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	s.products = slices.Delete(s.products, idx, idx+1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}
	status, err := domain.ParsePurchaseOrderStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.orders, func(o domain.PurchaseOrder) bool { return o.ID == id })
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	if !s.orders[idx].Status.CanTransitionTo(status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": fmt.Sprintf("cannot move from %s to %s", s.orders[idx].Status, status)})
		return
	}
	s.orders[idx].Status = status
	s.orders[idx].UpdatedAt = s.now().UTC()
	writeJSON(w, http.StatusOK, s.orders[idx])
}

func (s *Server) recordPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AmountCents <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"amount_cents": "must be a positive integer"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.credits, func(c domain.Credit) bool { return c.ID == id })
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	if req.AmountCents > s.credits[idx].BalanceCents {
		writeJSON(w, http.StatusBadRequest, map[string]string{"amount_cents": "exceeds balance"})
		return
	}
	s.credits[idx].BalanceCents -= req.AmountCents
	writeJSON(w, http.StatusCreated, s.credits[idx])
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out domain.DashboardSummary
	y, m, d := s.now().UTC().Date()
	for _, sale := range s.sales {
		sy, sm, sd := sale.SoldAt.UTC().Date()
		if sy == y && sm == m && sd == d {
			out.SalesTodayCents += sale.TotalCents
		}
	}
	for _, o := range s.orders {
		if o.Status == domain.OrderPending || o.Status == domain.OrderApproved {
			out.OpenOrders++
		}
	}
	for _, c := range s.credits {
		out.OutstandingCredits += c.BalanceCents
	}
	for _, p := range s.products {
		if p.Stock < lowStockLimit {
			out.LowStockProducts++
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
