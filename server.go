package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"bitbucket.org/mmdatafocus/marketplace_backend/workflow"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func handlerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorLockNotObtained):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func createPurchaseBillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPurchaseBill
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		bill, err := workflow.CreatePurchaseBill(c.Request.Context(), &input)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusCreated, bill)
	}
}

func updatePurchaseBillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewPurchaseBill
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		bill, err := workflow.UpdatePurchaseBill(c.Request.Context(), id, &input)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, bill)
	}
}

func deletePurchaseBillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		if err := workflow.DeletePurchaseBill(c.Request.Context(), id); err != nil {
			handlerError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func getPurchaseBillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		bill, err := utils.FetchModel[models.PurchaseBill](c.Request.Context(), id, "Items")
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, bill)
	}
}

func listPurchaseBillsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bills, err := utils.FetchAllModels[models.PurchaseBill](c.Request.Context(), "Items")
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, bills)
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.UpdateProductInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		release, err := utils.ProductLock(ctx, id, "server.go", "updateProductHandler")
		if err != nil {
			handlerError(c, err)
			return
		}
		defer release()

		product, priceChanged, err := models.UpdateProductPartial(ctx, id, &input)
		if err != nil {
			handlerError(c, err)
			return
		}
		if priceChanged {
			workflow.DispatchProductSync(ctx, config.GetDB(), config.GetLogger(), []int{product.ID})
		}
		c.JSON(http.StatusOK, product)
	}
}

func deleteProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if _, err := models.DeleteProduct(ctx, id); err != nil {
			handlerError(c, err)
			return
		}
		summary, err := workflow.OnProductRemoved(config.GetDB(), config.GetLogger(), id)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed_catalog_entries": summary.Updated})
	}
}

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		product, err := utils.FetchModel[models.Product](c.Request.Context(), id)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inStockOnly := c.Query("in_stock") == "1"
		products, err := models.ListProducts(c.Request.Context(), inStockOnly)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, products)
	}
}

type autoMarkupRequest struct {
	models.NewMarkupPolicy
	ApplyToExisting  bool `json:"apply_to_existing"`
	OverrideExisting bool `json:"override_existing"`
}

func autoMarkupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req autoMarkupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		ctx := c.Request.Context()
		policy, err := models.SaveMarkupPolicy(ctx, &req.NewMarkupPolicy)
		if err != nil {
			handlerError(c, err)
			return
		}

		db := config.GetDB()
		logger := config.GetLogger()
		summary, changedIds, err := workflow.ApplyMarkupPolicy(db.WithContext(ctx), logger, policy, req.ApplyToExisting, req.OverrideExisting)
		if err != nil {
			handlerError(c, err)
			return
		}
		workflow.DispatchProductSync(ctx, db, logger, changedIds)
		c.JSON(http.StatusOK, gin.H{"policy": policy, "summary": summary})
	}
}

func syncAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := workflow.SyncAll(config.GetDB().WithContext(c.Request.Context()), config.GetLogger())
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func upsertAutoImportSettingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewAutoImportSetting
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		ctx := c.Request.Context()
		setting, err := models.UpsertAutoImportSetting(ctx, &input)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, setting)
	}
}

func createCatalogEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCatalogEntry
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		entry, err := models.CreateCatalogEntry(c.Request.Context(), &input)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

func updateCatalogEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.UpdateCatalogEntryInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		entry, err := models.UpdateCatalogEntry(c.Request.Context(), id, &input)
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func listCatalogEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := models.ListCatalogEntries(c.Request.Context())
		if err != nil {
			handlerError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

// tenantContextMiddleware resolves the calling tenant from headers set by
// the gateway. Back-office requests carry no tenant headers and pass
// through untouched.
func tenantContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := strings.TrimSpace(c.GetHeader("x-tenant-kind"))
		idStr := strings.TrimSpace(c.GetHeader("x-tenant-id"))
		if kind != "" && idStr != "" {
			if _, err := models.ParseTenantKind(kind); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			id, err := strconv.Atoi(idStr)
			if err != nil || id <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid x-tenant-id"})
				return
			}
			c.Request = c.Request.WithContext(utils.SetTenantInContext(c.Request.Context(), kind, id))
		}
		c.Next()
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-tenant-kind", "x-tenant-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(tenantContextMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/purchase-bills", createPurchaseBillHandler())
	r.GET("/purchase-bills", listPurchaseBillsHandler())
	r.GET("/purchase-bills/:id", getPurchaseBillHandler())
	r.PUT("/purchase-bills/:id", updatePurchaseBillHandler())
	r.DELETE("/purchase-bills/:id", deletePurchaseBillHandler())

	r.POST("/products", createProductHandler())
	r.GET("/products", listProductsHandler())
	r.GET("/products/:id", getProductHandler())
	r.PATCH("/products/:id", updateProductHandler())
	r.DELETE("/products/:id", deleteProductHandler())

	r.POST("/settings/auto-markup", autoMarkupHandler())
	r.POST("/sync/auto-import", syncAllHandler())

	r.POST("/tenants/auto-import-setting", upsertAutoImportSettingHandler())
	r.POST("/tenants/catalog", createCatalogEntryHandler())
	r.PUT("/tenants/catalog/:id", updateCatalogEntryHandler())
	r.GET("/tenants/catalog", listCatalogEntriesHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
