package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/joinmarket-core/internal/audit"
	"github.com/rawblock/joinmarket-core/internal/chain"
	"github.com/rawblock/joinmarket-core/internal/relay"
	"github.com/rawblock/joinmarket-core/internal/taker"
)

// APIHandler is the operator console's backing state: the audit trail,
// the chain adapter (for a wallet-sync health check), the websocket
// hub, the relay bus (for the live orderbook view) and the Taker this
// process drives.
type APIHandler struct {
	auditStore *audit.Store
	bchain     chain.Blockchain
	wsHub      *Hub
	bus        *relay.Bus
	tkr        *taker.Taker
	startedAt  time.Time
}

// SetupRouter wires the operator console: a public health/stream
// surface plus a bearer-token-protected control surface for inspecting
// and aborting the running Taker, behind a
// CORS-then-auth-then-rate-limit middleware chain.
func SetupRouter(auditStore *audit.Store, bchain chain.Blockchain, wsHub *Hub, bus *relay.Bus, tkr *taker.Taker) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://example.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		auditStore: auditStore,
		bchain:     bchain,
		wsHub:      wsHub,
		bus:        bus,
		tkr:        tkr,
		startedAt:  time.Now(),
	}

	// Public endpoints (no auth).
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
	}

	// Protected endpoints (require bearer token if API_AUTH_TOKEN is set).
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	// Rate-limit protected endpoints to 30 req/min per IP (burst=5).
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.GET("/orderbook", handler.handleOrderbook)
		auth.GET("/taker/state", handler.handleTakerState)
		auth.POST("/taker/abort", handler.handleTakerAbort)
		auth.GET("/runs", handler.handleRecentRuns)
		auth.GET("/commitments/:commitment", handler.handleCommitmentUsed)
	}

	r.Static("/dashboard", "./public")

	return r
}

// handleHealth reports coordinator liveness and its dependencies'
// readiness for service discovery and the operator console's status
// banner.
func (h *APIHandler) handleHealth(c *gin.Context) {
	dbConnected := h.auditStore != nil

	walletSynced := false
	if h.bchain != nil {
		if synced, err := h.bchain.WalletSynced(c.Request.Context()); err == nil {
			walletSynced = synced
		}
	}

	takerState := "unavailable"
	if h.tkr != nil {
		takerState = h.tkr.State().String()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "operational",
		"uptime":       time.Since(h.startedAt).String(),
		"dbConnected":  dbConnected,
		"walletSynced": walletSynced,
		"takerState":   takerState,
	})
}

// handleOrderbook returns the relay's current view of advertised offers.
func (h *APIHandler) handleOrderbook(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay bus not configured"})
		return
	}
	entries, err := h.bus.Orderbook()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// handleTakerState reports the running Taker's lifecycle state and
// session identifier.
func (h *APIHandler) handleTakerState(c *gin.Context) {
	if h.tkr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no taker running in this process"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state": h.tkr.State().String(),
		"kphex": h.tkr.KPHex(),
	})
}

// handleTakerAbort sets the Taker's cancellation flag; every in-flight
// entry point short-circuits to ErrAborted on its next call.
func (h *APIHandler) handleTakerAbort(c *gin.Context) {
	if h.tkr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no taker running in this process"})
		return
	}
	h.tkr.Abort()
	if h.wsHub != nil {
		payload, _ := json.Marshal(gin.H{"type": "taker_aborted"})
		h.wsHub.Broadcast(payload)
	}
	c.JSON(http.StatusOK, gin.H{"status": "abort_requested"})
}

// handleRecentRuns lists the most recent schedule runs, newest first.
func (h *APIHandler) handleRecentRuns(c *gin.Context) {
	if h.auditStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not connected"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.auditStore.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// handleCommitmentUsed reports whether a PoDLE commitment has already
// been spent by a prior run.
func (h *APIHandler) handleCommitmentUsed(c *gin.Context) {
	if h.auditStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not connected"})
		return
	}
	used, err := h.auditStore.CommitmentUsed(c.Request.Context(), c.Param("commitment"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commitment": c.Param("commitment"), "used": used})
}

// BroadcastRunFinished wraps a taker.OnFinishedFunc so that every
// schedule completion also reaches the dashboard over the websocket
// hub, the same way other alerts are pushed to connected clients.
func BroadcastRunFinished(wsHub *Hub, next taker.OnFinishedFunc) taker.OnFinishedFunc {
	return func(success bool, fromtx string, waittimeMinutes float64, txdetails *taker.TxDetails) {
		payload := gin.H{
			"type":    "run_finished",
			"success": success,
			"fromtx":  fromtx,
		}
		if txdetails != nil {
			payload["txid"] = txdetails.Txid
			payload["confirmations"] = txdetails.Confirmations
		}
		if data, err := json.Marshal(payload); err == nil {
			wsHub.Broadcast(data)
		} else {
			log.Printf("api: marshal run_finished event: %v", err)
		}
		if next != nil {
			next(success, fromtx, waittimeMinutes, txdetails)
		}
	}
}

// WatchTakerState polls the Taker's lifecycle state and pushes a
// state_changed event to the websocket hub whenever it transitions,
// the same polling shape internal/chain/rpc.go uses to watch
// confirmations rather than requiring the Taker itself to know about
// the console.
func WatchTakerState(ctx context.Context, wsHub *Hub, t *taker.Taker, interval time.Duration) {
	last := t.State()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := t.State()
			if cur == last {
				continue
			}
			last = cur
			payload, err := json.Marshal(gin.H{"type": "state_changed", "state": cur.String()})
			if err != nil {
				continue
			}
			wsHub.Broadcast(payload)
		}
	}
}
