package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Brownie44l1/aidetect-api/internal/imageio"
	"github.com/Brownie44l1/aidetect-api/internal/inference"
	"github.com/Brownie44l1/aidetect-api/internal/pipeline"
	"github.com/Brownie44l1/aidetect-api/internal/score"
	"github.com/Brownie44l1/aidetect-api/internal/tiles"
)

type Classifier interface {
	Classify(ctx context.Context, img *tiles.Image) (score.Verdict, error)
}

type Options struct {
	MaxImageSide   int
	MaxPixels      int
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Logger         *slog.Logger
	// Ready reports whether the model is loaded; nil means always ready.
	Ready          func() bool
}

type Handler struct {
	classifier Classifier
	opts       Options
	log        *slog.Logger
}

func NewHandler(classifier Classifier, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		classifier: classifier,
		opts:       opts,
		log:        logger,
	}
}

func (h *Handler) Health(c *gin.Context) {
	loaded := h.opts.Ready == nil || h.opts.Ready()
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "model_loaded": loaded})
}

// Classify accepts a multipart upload in the "image" field.
func (h *Handler) Classify(c *gin.Context) {
	id := requestID(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, id, http.StatusRequestEntityTooLarge, err)
			return
		}
		h.fail(c, id, http.StatusBadRequest, errors.New("no image file provided, use 'image' as the form field name"))
		return
	}

	file, err := header.Open()
	if err != nil {
		h.fail(c, id, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	decoded, err := imageio.Decode(file, imageio.Limits{
		MaxSide:   h.opts.MaxImageSide,
		MaxPixels: h.opts.MaxPixels,
	})
	if err != nil {
		h.fail(c, id, statusFor(err), err)
		return
	}

	h.log.Debug("received image", "request_id", id, "file", header.Filename,
		"format", decoded.Format, "width", decoded.Width, "height", decoded.Height)

	h.classify(c, id, decoded.Image, decoded.Width, decoded.Height)
}

// ClassifyRaw accepts a JSON RawRequest.
func (h *Handler) ClassifyRaw(c *gin.Context) {
	id := requestID(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	var req RawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, id, http.StatusBadRequest, errors.New("invalid JSON"))
		return
	}

	img := &tiles.Image{Width: req.Width, Height: req.Height, Pix: req.Pixels}
	h.classify(c, id, img, req.Width, req.Height)
}

func (h *Handler) classify(c *gin.Context, id string, img *tiles.Image, width, height int) {
	ctx := c.Request.Context()
	if h.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	verdict, err := h.classifier.Classify(ctx, img)
	if err != nil {
		h.fail(c, id, statusFor(err), err)
		return
	}

	c.JSON(http.StatusOK, ClassifyResponse{
		RequestID: id,
		Verdict:   verdict,
		Width:     width,
		Height:    height,
		ElapsedMS: time.Since(start).Milliseconds(),
	})
}

func (h *Handler) fail(c *gin.Context, id string, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.log.Error("classification failed", "request_id", id, "status", status, "error", err)
	} else {
		h.log.Debug("rejected request", "request_id", id, "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: id, Error: err.Error()})
}

func requestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tiles.ErrInvalidImage),
		errors.Is(err, pipeline.ErrNoTiles),
		errors.Is(err, imageio.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, inference.ErrInference):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
