// Package api maps HTTP routes onto the model lifecycle.
package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"irisapi/internal/lifecycle"
)

const (
	ServiceName    = "Iris Classification API"
	ServiceVersion = "1.0.0"

	requestIDHeader = "X-Request-ID"
)

type Options struct {
	// ModelPath is where /retrain persists the new model.
	ModelPath string
	// Defaults fill in hyperparameters missing from a /retrain query.
	Defaults    lifecycle.Hyperparameters
	CORSOrigins []string
}

type Server struct {
	clf     Classifier
	history HistoryStore
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
}

// NewServer builds the HTTP server. history may be nil, in which case
// /training-history answers 503.
func NewServer(clf Classifier, history HistoryStore, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	registerFieldNames()
	return &Server{clf: clf, history: history, logger: logger, opts: opts, now: time.Now}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery(), s.requestLogger(), corsMiddleware(s.opts.CORSOrigins))

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.POST("/predict", s.handlePredict)
	r.GET("/model-info", s.handleModelInfo)
	r.POST("/retrain", s.handleRetrain)
	r.GET("/training-history", s.handleHistory)
	return r
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error("panic serving request",
			zap.String("request_id", c.GetString("request_id")),
			zap.Any("panic", recovered),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// requestLogger tags every request with an id, reusing the caller's
// X-Request-ID when present, and logs it once it completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			s.logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			s.logger.Warn("request", fields...)
		default:
			s.logger.Info("request", fields...)
		}
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
