// Package httpapi exposes the publishers over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/camelya58/kafkabridge/codec"
	"github.com/camelya58/kafkabridge/core"
	"github.com/camelya58/kafkabridge/internal/model"
)

// Sender is the publishing side of a pipeline. *core.Publisher implements it.
type Sender[K, V any] interface {
	Send(ctx context.Context, destination string, key K, value V) (*core.Future, error)
	SendValue(ctx context.Context, destination string, value V) (*core.Future, error)
}

// Deps wires the HTTP handlers to the rest of the application.
type Deps struct {
	Users     Sender[int64, model.User]
	UserTopic string
	Texts     Sender[string, string]
	TextTopic string

	// Health reports the dispatcher's state.
	Health   func() core.State
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type handler struct {
	deps Deps
}

// NewRouter returns the gin engine serving the bridge's endpoints.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	h := &handler{deps: deps}

	r := gin.New()
	r.Use(requestLogger(deps.Logger), gin.Recovery())

	r.POST("/message", h.postUser)
	r.POST("/message/text", h.postText)
	r.POST("/msg", h.postForm)
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	return r
}

type userRequest struct {
	Key   int64       `json:"key"`
	Value *model.User `json:"value" binding:"required"`
}

type textRequest struct {
	Key   string  `json:"key"`
	Value *string `json:"value" binding:"required"`
}

type formRequest struct {
	MsgID *int64 `form:"msgId"`
	Age   int64  `form:"age"`
	Name  string `form:"name" binding:"required"`
}

func (h *handler) postUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	send(c, h.deps.Logger, h.deps.UserTopic, func(ctx context.Context) (*core.Future, error) {
		return h.deps.Users.Send(ctx, h.deps.UserTopic, req.Key, *req.Value)
	})
}

func (h *handler) postText(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	send(c, h.deps.Logger, h.deps.TextTopic, func(ctx context.Context) (*core.Future, error) {
		return h.deps.Texts.Send(ctx, h.deps.TextTopic, req.Key, *req.Value)
	})
}

// postForm accepts the legacy query-string form and fills in the fixed address.
// Without msgId the message goes out with a null key.
func (h *handler) postForm(c *gin.Context) {
	var req formRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}
	user := model.User{Age: req.Age, Name: req.Name, Address: model.DefaultAddress()}
	send(c, h.deps.Logger, h.deps.UserTopic, func(ctx context.Context) (*core.Future, error) {
		if req.MsgID == nil {
			return h.deps.Users.SendValue(ctx, h.deps.UserTopic, user)
		}
		return h.deps.Users.Send(ctx, h.deps.UserTopic, *req.MsgID, user)
	})
}

func (h *handler) healthz(c *gin.Context) {
	state := core.Stopped
	if h.deps.Health != nil {
		state = h.deps.Health()
	}
	status := http.StatusOK
	if state != core.Running {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"dispatcher": state.String()})
}

// send publishes one message. Unless async=true is given it waits for the
// broker's acknowledgement and maps the outcome to a status code. An async
// send outlives the request and is bounded only by the publisher's timeout.
func send(c *gin.Context, log *zap.Logger, destination string, publish func(context.Context) (*core.Future, error)) {
	async := c.Query("async") == "true"
	ctx := c.Request.Context()
	if async {
		ctx = context.WithoutCancel(ctx)
	}

	f, err := publish(ctx)
	if err != nil {
		var se *codec.SerializationError
		if !errors.As(err, &se) {
			log.Error("send rejected", zap.String("destination", destination), zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if async {
		f.OnComplete(func(res core.SendResult, err error) {
			if err != nil {
				log.Warn("async send failed", zap.String("destination", destination), zap.Error(err))
				return
			}
			log.Info("message sent",
				zap.String("destination", res.Destination),
				zap.Int("partition", res.Partition),
				zap.Int64("offset", res.Offset))
		})
		c.Status(http.StatusOK)
		return
	}

	res, err := f.Get(c.Request.Context())
	if err != nil {
		var sendErr *core.SendError
		switch {
		case errors.As(err, &sendErr) && sendErr.Timeout():
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		case errors.As(err, &sendErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			// The client went away before the acknowledgement.
			c.Status(http.StatusServiceUnavailable)
		}
		return
	}

	log.Info("message sent",
		zap.String("destination", res.Destination),
		zap.Int("partition", res.Partition),
		zap.Int64("offset", res.Offset))
	c.Status(http.StatusOK)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// requestLogger logs every request once it has been served.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			log.Warn("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Debug("request served", fields...)
	}
}
