// Package stubs simulates the brokerage API for local runs and tests.
package stubs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/account-stream/internal/observ"
	"github.com/Rajchodisetti/account-stream/internal/sse"
)

// Brokerage serves account status events, account lookups and order entry
type Brokerage struct {
	mu        sync.RWMutex
	events    []wireFrame
	accounts  map[string]*account
	orders    []OrderRecord
	byClient  map[string]int
	seq       int64
	clients   map[int64]*streamClient
	nextID    int64
	heartbeat time.Duration

	// APIKey/APISecret, when set, are required as basic auth
	APIKey    string
	APISecret string
	// FailSymbols are rejected with 422 by the order endpoint
	FailSymbols map[string]bool
	// StreamStatus, when non-zero, is returned instead of opening the stream
	StreamStatus int
}

type wireFrame struct {
	seq  int64
	ulid string
	at   time.Time
	data string
}

type streamClient struct {
	ch   chan wireFrame
	kick chan struct{}
}

func NewBrokerage() *Brokerage {
	return &Brokerage{
		accounts:    make(map[string]*account),
		byClient:    make(map[string]int),
		clients:     make(map[int64]*streamClient),
		heartbeat:   10 * time.Second,
		FailSymbols: make(map[string]bool),
	}
}

// SetHeartbeat changes the idle comment interval for new streams
func (b *Brokerage) SetHeartbeat(d time.Duration) {
	b.mu.Lock()
	b.heartbeat = d
	b.mu.Unlock()
}

// Handler routes the simulated API
func (b *Brokerage) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/events/accounts/status", b.auth(b.ServeStatusStream))
	mux.HandleFunc("GET /v1/accounts/{id}", b.auth(b.serveAccount))
	mux.HandleFunc("GET /v1/trading/accounts/{id}/account", b.auth(b.serveTradingAccount))
	mux.HandleFunc("POST /v1/trading/accounts/{id}/orders", b.auth(b.serveOrder))
	mux.Handle("GET /health", observ.Health())
	return mux
}

func (b *Brokerage) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if b.APIKey != "" {
			key, secret, ok := r.BasicAuth()
			if !ok || key != b.APIKey || secret != b.APISecret {
				http.Error(w, `{"code":40110000,"message":"request is not authorized"}`, http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// CreateAccount registers an account in SUBMITTED status
func (b *Brokerage) CreateAccount(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[id] = &account{
		ID:            id,
		AccountNumber: fmt.Sprintf("9%08d", len(b.accounts)+1),
		Status:        "SUBMITTED",
		CreatedAt:     nowUTC(),
	}
}

// SetStatus moves an account to status and publishes the change on the stream
func (b *Brokerage) SetStatus(id, status string) StatusEvent {
	b.mu.Lock()
	acct, ok := b.accounts[id]
	if !ok {
		acct = &account{ID: id, AccountNumber: fmt.Sprintf("9%08d", len(b.accounts)+1), CreatedAt: nowUTC()}
		b.accounts[id] = acct
	}
	from := acct.Status
	acct.Status = status
	b.seq++
	ev := StatusEvent{
		AccountID:     id,
		AccountNumber: acct.AccountNumber,
		At:            nowUTC(),
		EventID:       b.seq,
		EventULID:     ulidFor(b.seq),
		StatusFrom:    from,
		StatusTo:      status,
	}
	data, _ := json.Marshal(ev)
	b.appendLocked(string(data))
	b.mu.Unlock()
	return ev
}

// PublishRaw appends an arbitrary data payload to the stream
func (b *Brokerage) PublishRaw(data string) {
	b.mu.Lock()
	b.seq++
	b.appendLocked(data)
	b.mu.Unlock()
}

func (b *Brokerage) appendLocked(data string) {
	f := wireFrame{seq: b.seq, ulid: ulidFor(b.seq), at: time.Now().UTC(), data: data}
	b.events = append(b.events, f)
	for id, c := range b.clients {
		select {
		case c.ch <- f:
		default:
			observ.Log("stub_stream_client_lagging", map[string]any{"client": id})
		}
	}
}

// DropStreams closes every open stream connection
func (b *Brokerage) DropStreams() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		close(c.kick)
		delete(b.clients, id)
	}
}

// ConnectedStreams returns the number of open stream connections
func (b *Brokerage) ConnectedStreams() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Orders returns accepted orders for accountID
func (b *Brokerage) Orders(accountID string) []OrderRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []OrderRecord
	for _, o := range b.orders {
		if o.AccountID == accountID {
			out = append(out, o)
		}
	}
	return out
}

// ServeStatusStream streams status events after the requested resume point,
// then live events and heartbeats until the client goes away.
func (b *Brokerage) ServeStatusStream(w http.ResponseWriter, r *http.Request) {
	if b.StreamStatus != 0 {
		http.Error(w, "stream unavailable", b.StreamStatus)
		return
	}

	q := r.URL.Query()
	var sinceSeq int64
	var sinceTime time.Time
	if v := q.Get("since_id"); v != "" {
		sinceSeq, _ = strconv.ParseInt(v, 10, 64)
	}
	ulid := q.Get("since_ulid")
	if v := q.Get("since"); v != "" {
		sinceTime, _ = time.Parse(time.RFC3339, v)
	}

	b.mu.Lock()
	var backlog []wireFrame
	for _, f := range b.events {
		switch {
		case ulid != "" && f.ulid <= ulid:
			continue
		case f.seq <= sinceSeq:
			continue
		case !sinceTime.IsZero() && !f.at.After(sinceTime):
			continue
		}
		backlog = append(backlog, f)
	}
	b.nextID++
	clientID := b.nextID
	c := &streamClient{ch: make(chan wireFrame, 100), kick: make(chan struct{})}
	b.clients[clientID] = c
	heartbeat := b.heartbeat
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, clientID)
		b.mu.Unlock()
	}()

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	sw := sse.NewWriter(w)

	for _, f := range backlog {
		if err := sw.WriteFrame(sse.Frame{ID: strconv.FormatInt(f.seq, 10), Data: f.data}); err != nil {
			return
		}
	}
	if err := sw.WriteComment("connected"); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.kick:
			return
		case <-ticker.C:
			if err := sw.WriteComment("ping"); err != nil {
				return
			}
		case f := <-c.ch:
			if err := sw.WriteFrame(sse.Frame{ID: strconv.FormatInt(f.seq, 10), Data: f.data}); err != nil {
				return
			}
		}
	}
}

func (b *Brokerage) serveAccount(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	acct, ok := b.accounts[r.PathValue("id")]
	var out account
	if ok {
		out = *acct
	}
	b.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 40410000, "message": "account not found"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Brokerage) serveTradingAccount(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	acct, ok := b.accounts[r.PathValue("id")]
	var status string
	if ok {
		status = acct.Status
	}
	b.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 40410000, "message": "account not found"})
		return
	}
	writeJSON(w, http.StatusOK, tradingAccount{
		ID: r.PathValue("id"), Status: status, Cash: "10000", BuyingPower: "10000", Equity: "10000",
	})
}

func (b *Brokerage) serveOrder(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req OrderRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 40010000, "message": "bad json: " + err.Error()})
		return
	}
	accountID := r.PathValue("id")

	b.mu.Lock()
	defer b.mu.Unlock()

	acct, ok := b.accounts[accountID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 40410000, "message": "account not found"})
		return
	}
	if acct.Status != "ACTIVE" {
		writeJSON(w, http.StatusForbidden, map[string]any{"code": 40310000, "message": "account is not active"})
		return
	}
	if b.FailSymbols[strings.ToUpper(req.Symbol)] {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 42210000, "message": "asset " + req.Symbol + " is not tradable"})
		return
	}
	if i, dup := b.byClient[req.ClientOrderID]; dup && req.ClientOrderID != "" {
		writeJSON(w, http.StatusOK, b.orders[i])
		return
	}

	req.ID = fmt.Sprintf("order-%d", len(b.orders)+1)
	req.AccountID = accountID
	req.Status = "accepted"
	req.SubmittedAt = nowUTC()
	b.orders = append(b.orders, req)
	if req.ClientOrderID != "" {
		b.byClient[req.ClientOrderID] = len(b.orders) - 1
	}
	writeJSON(w, http.StatusOK, req)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
