// Package api serves the read-only import status endpoints and, when a
// worker is attached, the Pub/Sub push endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"priceetl/internal/logging"
	"priceetl/internal/model"
	"priceetl/internal/queue"
	"priceetl/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// PushProcessor handles one job message delivered by a push subscription.
type PushProcessor interface {
	Process(ctx context.Context, data []byte) bool
}

// pushEnvelope is the body Pub/Sub POSTs to push endpoints. Data arrives
// base64 encoded, which encoding/json decodes into []byte.
type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// NewRouter builds the HTTP handler. push may be nil.
func NewRouter(imports storage.ImportStore, push PushProcessor, log logrus.FieldLogger) *gin.Engine {
	log = logging.OrDiscard(log)

	r := gin.New()
	r.Use(requestLogger(log))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/imports", listImports(imports))
	r.GET("/imports/:import_id", getImport(imports))
	if push != nil {
		r.POST("/pubsub/push", pushHandler(push, log))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func listImports(imports storage.ImportStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultLimit
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxLimit)
		}
		recs, err := imports.ListImports(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]model.ImportView, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.View())
		}
		c.JSON(http.StatusOK, out)
	}
}

func getImport(imports storage.ImportStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := imports.GetImport(c.Request.Context(), c.Param("import_id"))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "import not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, rec.View())
		}
	}
}

// pushHandler acks with 204 and asks for redelivery with 503. Unreadable
// envelopes are acked, since redelivering them cannot help.
func pushHandler(p PushProcessor, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var env pushEnvelope
		if err := json.Unmarshal(body, &env); err != nil || len(env.Message.Data) == 0 {
			log.WithField("subscription", env.Subscription).Warn("dropping malformed push message")
			c.Status(http.StatusNoContent)
			return
		}
		if !p.Process(c.Request.Context(), env.Message.Data) {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	log = logging.OrDiscard(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.WithField("addr", addr).Info("api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

var _ PushProcessor = (*queue.Worker)(nil)
