// Package web exposes the read endpoints: stored surge hits, spreadsheet
// export, liveness, and metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"surge-scanner/internal/cache"
	"surge-scanner/internal/marketdata"
	"surge-scanner/internal/observability"
	"surge-scanner/internal/report"
	"surge-scanner/internal/scan"
	"surge-scanner/internal/scheduler"
	"surge-scanner/internal/storage"
)

// DefaultWindow is the recency window of the tokens listing.
const DefaultWindow = 24 * time.Hour

const tokensCacheKey = "web:tokens"

// Trigger starts an on-demand scan; scheduler.Scheduler satisfies it.
type Trigger interface {
	TriggerScan(ctx context.Context) error
}

// Router holds the read-endpoint handlers.
type Router struct {
	tokens  storage.TokenStore
	state   storage.ScanStateStore
	trigger Trigger
	cache   *cache.Cache // nil disables response caching
	window  time.Duration
	pages   int
	logger  *log.Logger
}

// RouterOptions contains configuration for creating a Router.
type RouterOptions struct {
	Tokens  storage.TokenStore
	State   storage.ScanStateStore
	Trigger Trigger
	Cache   *cache.Cache
	Window  time.Duration // tokens listing recency window, default 24h
	Pages   int           // catalog pages per scan, for the range note
	Logger  *log.Logger
}

// NewRouter creates a new Router.
func NewRouter(opts RouterOptions) *Router {
	window := opts.Window
	if window == 0 {
		window = DefaultWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Router{
		tokens:  opts.Tokens,
		state:   opts.State,
		trigger: opts.Trigger,
		cache:   opts.Cache,
		window:  window,
		pages:   opts.Pages,
		logger:  logger,
	}
}

// Register mounts all routes on the engine.
func (r *Router) Register(engine *gin.Engine) {
	engine.Use(CORSMiddleware())

	api := engine.Group("/api")
	api.GET("/tokens", r.Tokens)
	api.GET("/download-excel", r.DownloadExcel)
	api.GET("/ping", r.Ping)

	engine.GET("/metrics", gin.WrapH(observability.Handler()))
}

// CORSMiddleware allows cross-origin reads.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// tokensResponse is the payload of GET /api/tokens.
type tokensResponse struct {
	LastUpdatedOn string      `json:"lastUpdatedOn"`
	Range         string      `json:"range"`
	Limits        string      `json:"limits"`
	Tokens        interface{} `json:"tokens"`
}

// Tokens triggers a refresh when the stored data is stale, then lists the
// tokens updated within the recency window. A refresh already in flight is
// reported as a conflict.
func (r *Router) Tokens(c *gin.Context) {
	ctx := c.Request.Context()

	if data, ok := r.cache.Get(ctx, tokensCacheKey); ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
		return
	}

	if err := r.trigger.TriggerScan(ctx); err != nil {
		if errors.Is(err, scheduler.ErrScanInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"status":  http.StatusConflict,
				"message": "Refresh already in progress",
			})
			return
		}
		r.logger.Printf("Trigger scan: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  http.StatusInternalServerError,
			"message": "Failed to trigger refresh",
		})
		return
	}

	tokens, err := r.tokens.ListUpdatedSince(ctx, time.Now().Add(-r.window))
	if err != nil {
		r.logger.Printf("List tokens: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  http.StatusInternalServerError,
			"message": "Failed to list tokens",
		})
		return
	}

	lastUpdated := "No completed scan yet"
	if state, err := r.state.Get(ctx); err == nil {
		lastUpdated = state.LastScanAt.UTC().Format(time.RFC1123)
	} else if !errors.Is(err, storage.ErrNotFound) {
		r.logger.Printf("Read scan state: %v", err)
	}

	resp := tokensResponse{
		LastUpdatedOn: lastUpdated,
		Range:         rangeNote(r.pages),
		Limits:        "Refresh is limited to once per hour",
		Tokens:        tokens,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		r.logger.Printf("Marshal tokens response: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  http.StatusInternalServerError,
			"message": "Failed to render tokens",
		})
		return
	}

	r.cache.Set(ctx, tokensCacheKey, data)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// DownloadExcel streams the tokens updated within the recency window as an
// xlsx attachment.
func (r *Router) DownloadExcel(c *gin.Context) {
	ctx := c.Request.Context()

	tokens, err := r.tokens.ListUpdatedSince(ctx, time.Now().Add(-r.window))
	if err != nil {
		r.logger.Printf("List tokens for export: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  http.StatusInternalServerError,
			"message": "Failed to list tokens",
		})
		return
	}

	workbook, err := report.BuildWorkbook(tokens)
	if err != nil {
		r.logger.Printf("Build workbook: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  http.StatusInternalServerError,
			"message": "Failed to build spreadsheet",
		})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="surge-tokens.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := workbook.Write(c.Writer); err != nil {
		r.logger.Printf("Write workbook: %v", err)
	}
}

// Ping reports liveness.
func (r *Router) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func rangeNote(pages int) string {
	if pages <= 0 {
		pages = scan.DefaultPages
	}
	return fmt.Sprintf("Top %d ranked tokens are scanned for surges", pages*marketdata.PageSize)
}
