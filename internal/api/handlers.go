package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"irisapi/internal/data"
	"irisapi/internal/history"
	"irisapi/internal/lifecycle"
)

// predictRequest uses pointers so a missing field is told apart from 0.
type predictRequest struct {
	SepalLength *float64 `json:"sepal_length" binding:"required,gte=0"`
	SepalWidth  *float64 `json:"sepal_width" binding:"required,gte=0"`
	PetalLength *float64 `json:"petal_length" binding:"required,gte=0"`
	PetalWidth  *float64 `json:"petal_width" binding:"required,gte=0"`
}

func (r predictRequest) sample() data.Sample {
	return data.Sample{
		SepalLength: *r.SepalLength,
		SepalWidth:  *r.SepalWidth,
		PetalLength: *r.PetalLength,
		PetalWidth:  *r.PetalWidth,
	}
}

type retrainQuery struct {
	NEstimators *int   `form:"n_estimators"`
	MaxDepth    *int   `form:"max_depth"`
	RandomState *int64 `form:"random_state"`
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelVersion string `json:"model_version,omitempty"`
	Timestamp    string `json:"timestamp"`
}

var fieldNamesOnce sync.Once

// registerFieldNames makes validation errors report JSON field names.
func registerFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": ServiceName,
		"version": ServiceVersion,
		"endpoints": gin.H{
			"predict":          "/predict (POST)",
			"model_info":       "/model-info (GET)",
			"health":           "/health (GET)",
			"retrain":          "/retrain (POST)",
			"training_history": "/training-history (GET)",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: s.now().Format(time.RFC3339Nano),
	}
	if meta, err := s.clf.Metadata(); err == nil {
		resp.ModelLoaded = true
		resp.ModelVersion = meta.ModelVersion
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}
	p, err := s.clf.Predict(req.sample())
	switch {
	case errors.Is(err, lifecycle.ErrNotTrained):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not trained"})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleModelInfo(c *gin.Context) {
	meta, err := s.clf.Metadata()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "model information not available"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) handleRetrain(c *gin.Context) {
	var q retrainQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
		return
	}
	hp := lifecycle.Hyperparameters{
		NEstimators: s.opts.Defaults.NEstimators,
		MaxDepth:    q.MaxDepth,
		RandomState: s.opts.Defaults.RandomState,
	}
	if q.NEstimators != nil {
		hp.NEstimators = *q.NEstimators
	}
	if q.RandomState != nil {
		hp.RandomState = *q.RandomState
	}

	s.logger.Info("retraining model",
		zap.String("request_id", c.GetString("request_id")),
		zap.Int("n_estimators", hp.NEstimators),
		zap.Any("max_depth", hp.MaxDepth),
		zap.Int64("random_state", hp.RandomState),
	)
	meta, err := s.clf.Retrain(c.Request.Context(), hp, s.opts.ModelPath)
	switch {
	case errors.Is(err, lifecycle.ErrInvalidHyperparameter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retraining failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "model retrained successfully",
		"model_info": meta,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "training history disabled"})
		return
	}
	limit := history.DefaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading training history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// bindError answers 422 for well-formed bodies with bad values and 400
// for bodies that are not JSON objects at all.
func (s *Server) bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid features", "fields": fields})
		return
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "invalid features",
			"fields": map[string]string{field: "must be a number"},
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON body"})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
