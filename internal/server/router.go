package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/portfolio/internal/auth"
	"github.com/MarcoPoloResearchLab/portfolio/internal/gallery"
	"github.com/MarcoPoloResearchLab/portfolio/internal/payload"
	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	proofContextKey          = "portfolio_admin_proof"
	defaultMaxUploadBytes    = 10 * 1000 * 1000
	defaultHeartbeatInterval = 25 * time.Second
	payloadCacheControl      = "public, max-age=31536000, immutable"
	payloadRoutePrefix       = "/payloads/"
)

var (
	errMissingAuthorizer     = errors.New("authorizer dependency required")
	errMissingTokenIssuer    = errors.New("token issuer dependency required")
	errMissingPasswords      = errors.New("password verifier dependency required")
	errMissingRosterService  = errors.New("roster service dependency required")
	errMissingGalleryService = errors.New("gallery service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// Dependencies wires the HTTP handler. Payloads, Realtime and Gatherer are optional; the
// routes they back are only registered when present.
type Dependencies struct {
	Authorizer        auth.Authorizer
	Tokens            *auth.TokenIssuer
	Passwords         *auth.PasswordVerifier
	Roster            *roster.Service
	Gallery           *gallery.Service
	Payloads          payload.Store
	Realtime          *RealtimeDispatcher
	Gatherer          prometheus.Gatherer
	Logger            *zap.Logger
	MaxAttempts       int
	MaxUploadBytes    int64
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Passwords == nil {
		return nil, errMissingPasswords
	}
	if deps.Roster == nil {
		return nil, errMissingRosterService
	}
	if deps.Gallery == nil {
		return nil, errMissingGalleryService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUploadBytes := deps.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	heartbeatInterval := deps.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		authorizer:        deps.Authorizer,
		tokens:            deps.Tokens,
		passwords:         deps.Passwords,
		roster:            deps.Roster,
		gallery:           deps.Gallery,
		payloads:          deps.Payloads,
		realtime:          deps.Realtime,
		logger:            logger,
		maxAttempts:       deps.MaxAttempts,
		maxUploadBytes:    maxUploadBytes,
		heartbeatInterval: heartbeatInterval,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/models", handler.handleListModels)
	router.GET("/models/:id", handler.handleGetModel)
	if deps.Realtime != nil {
		router.GET("/models/:id/events", handler.handleGalleryEvents)
	}
	if deps.Payloads != nil {
		router.GET(payloadRoutePrefix+":ref", handler.handlePayload)
	}
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/models", handler.handleCreateModel)
	protected.POST("/models/reorder", handler.handleReorderModels)
	protected.PUT("/models/:id", handler.handleUpdateModel)
	protected.DELETE("/models/:id", handler.handleDeleteModel)
	protected.POST("/models/:id/images", handler.handleUploadImage)
	protected.POST("/models/:id/images/reorder", handler.handleReorderImages)
	protected.DELETE("/models/:id/images/:imageId", handler.handleDeleteImage)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		ExposeHeaders:   []string{"ETag"},
		MaxAge:          12 * time.Hour,
	})
}

type httpHandler struct {
	authorizer        auth.Authorizer
	tokens            *auth.TokenIssuer
	passwords         *auth.PasswordVerifier
	roster            *roster.Service
	gallery           *gallery.Service
	payloads          payload.Store
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	maxAttempts       int
	maxUploadBytes    int64
	heartbeatInterval time.Duration
}

type loginRequestPayload struct {
	PasswordHash string `json:"password_hash"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type modelRequestPayload struct {
	Name      string       `json:"name"`
	Slug      string       `json:"slug"`
	Instagram string       `json:"instagram"`
	Stats     roster.Stats `json:"stats"`
}

type reorderModelsRequestPayload struct {
	OrderedModelIDs []int64 `json:"ordered_model_ids"`
}

type reorderImagesRequestPayload struct {
	OrderedImageIDs []string       `json:"ordered_image_ids"`
	ImagePositions  map[string]int `json:"image_positions"`
}

type imageResponsePayload struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Alt         string `json:"alt"`
}

type galleryResponsePayload struct {
	ModelID       int64                  `json:"modelId"`
	FeaturedImage *imageResponsePayload  `json:"featuredImage"`
	Gallery       []imageResponsePayload `json:"gallery"`
}

type modelResponsePayload struct {
	roster.Model
	FeaturedImage *imageResponsePayload  `json:"featuredImage"`
	Gallery       []imageResponsePayload `json:"gallery"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PasswordHash) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.passwords.Verify(request.PasswordHash) {
		h.logger.Info("admin login rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueAdminToken(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleListModels(c *gin.Context) {
	ctx := c.Request.Context()
	models, err := h.roster.List(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	owners := make([]roster.ModelID, 0, len(models))
	for _, model := range models {
		owners = append(owners, model.ModelID())
	}
	views, err := h.gallery.ReadMany(ctx, owners)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]modelResponsePayload, 0, len(models))
	for _, model := range models {
		response = append(response, modelResponseOf(model, views[model.ModelID()]))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetModel(c *gin.Context) {
	modelID, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	model, err := h.roster.Get(ctx, modelID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	view, err := h.gallery.Read(ctx, modelID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, modelResponseOf(model, view))
}

func (h *httpHandler) handleCreateModel(c *gin.Context) {
	var request modelRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	model, err := h.roster.Create(c.Request.Context(), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, modelResponseOf(model, gallery.Gallery{ModelID: model.ModelID()}))
}

func (h *httpHandler) handleUpdateModel(c *gin.Context) {
	modelID, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	var request modelRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ctx := c.Request.Context()
	model, err := h.roster.Update(ctx, modelID, request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	view, err := h.gallery.Read(ctx, modelID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, modelResponseOf(model, view))
}

func (h *httpHandler) handleDeleteModel(c *gin.Context) {
	modelID, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.roster.Delete(ctx, modelID); err != nil {
		h.respondError(c, err)
		return
	}
	h.gallery.Forget(ctx, modelID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorderModels(c *gin.Context) {
	var request reorderModelsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.OrderedModelIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ordered := make([]roster.ModelID, 0, len(request.OrderedModelIDs))
	for _, raw := range request.OrderedModelIDs {
		modelID, err := roster.NewModelID(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		ordered = append(ordered, modelID)
	}
	if err := h.roster.Reorder(c.Request.Context(), ordered); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUploadImage(c *gin.Context) {
	modelID, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+(1<<20))
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}

	ctx := c.Request.Context()
	proof := c.GetString(proofContextKey)
	alt := c.PostForm("alt")
	image, err := gallery.RetryOnConflict(ctx, h.maxAttempts, func() (gallery.Image, error) {
		return h.gallery.Upload(ctx, proof, modelID, content, alt)
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, imageResponseOf(image))
}

func (h *httpHandler) handleReorderImages(c *gin.Context) {
	modelID, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	var request reorderImagesRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if (len(request.OrderedImageIDs) == 0) == (len(request.ImagePositions) == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	proof := c.GetString(proofContextKey)
	var reorder func() (gallery.Gallery, error)
	if len(request.OrderedImageIDs) > 0 {
		ordered, err := gallery.ParseImageIDs(request.OrderedImageIDs)
		if err != nil {
			h.respondError(c, err)
			return
		}
		reorder = func() (gallery.Gallery, error) {
			return h.gallery.Reorder(ctx, proof, modelID, ordered)
		}
	} else {
		target := make(gallery.Positions, len(request.ImagePositions))
		for rawID, position := range request.ImagePositions {
			imageID, err := gallery.NewImageID(rawID)
			if err != nil {
				h.respondError(c, err)
				return
			}
			target[imageID] = position
		}
		reorder = func() (gallery.Gallery, error) {
			return h.gallery.ReorderPartial(ctx, proof, modelID, target)
		}
	}

	view, err := gallery.RetryOnConflict(ctx, h.maxAttempts, reorder)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, galleryResponseOf(view))
}

func (h *httpHandler) handleDeleteImage(c *gin.Context) {
	modelID, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	imageID, err := gallery.NewImageID(c.Param("imageId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	proof := c.GetString(proofContextKey)
	view, err := gallery.RetryOnConflict(ctx, h.maxAttempts, func() (gallery.Gallery, error) {
		return h.gallery.Delete(ctx, proof, modelID, imageID)
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, galleryResponseOf(view))
}

func (h *httpHandler) handlePayload(c *gin.Context) {
	ref, err := payload.ParseRef(c.Param("ref"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	etag := fmt.Sprintf("%q", ref.Digest())
	if c.GetHeader("If-None-Match") == etag {
		c.Header("ETag", etag)
		c.Header("Cache-Control", payloadCacheControl)
		c.Status(http.StatusNotModified)
		return
	}
	reader, object, err := h.payloads.Open(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, payload.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to open payload", zap.String("ref", ref.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "payload_unavailable"})
		return
	}
	defer reader.Close()
	c.DataFromReader(http.StatusOK, object.Size, object.ContentType, reader, map[string]string{
		"Cache-Control": payloadCacheControl,
		"ETag":          etag,
	})
}

func (h *httpHandler) handleGalleryEvents(c *gin.Context) {
	modelID, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, modelID)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventHeartbeat, heartbeatPayload(time.Now()))
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, eventPayloadOf(message))
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload(tick))
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	proof := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if proof == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	if !h.authorizer.IsAuthorized(c.Request.Context(), proof) {
		h.logger.Info("admin proof rejected", zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(proofContextKey, proof)
	c.Next()
}

func (h *httpHandler) modelIDParam(c *gin.Context) (roster.ModelID, bool) {
	modelID, err := roster.ParseModelID(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return 0, false
	}
	return modelID, true
}

type codedError interface {
	Code() string
}

// respondError writes {"error": reason, "code": code} with a status derived from the error kind.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, reason := classifyError(err)
	code := reason
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
		if index := strings.LastIndex(code, "."); index >= 0 {
			reason = code[index+1:]
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": reason, "code": code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, payload.ErrRejected):
		return http.StatusUnprocessableEntity, "payload_rejected"
	case errors.Is(err, roster.ErrModelNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, roster.ErrInvalidModel),
		errors.Is(err, roster.ErrInvalidModelID),
		errors.Is(err, gallery.ErrInvalidImageID):
		return http.StatusBadRequest, "invalid_request"
	}
	switch gallery.KindOf(err) {
	case gallery.ErrValidation:
		return http.StatusBadRequest, "validation"
	case gallery.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case gallery.ErrConflictRetryable:
		return http.StatusConflict, "conflict"
	case gallery.ErrForbidden:
		return http.StatusUnauthorized, "unauthorized"
	case gallery.ErrUpstreamFailure:
		return http.StatusBadGateway, "upstream_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (r modelRequestPayload) input() roster.ModelInput {
	return roster.ModelInput{
		Name:      r.Name,
		Slug:      r.Slug,
		Stats:     r.Stats,
		Instagram: r.Instagram,
	}
}

func modelResponseOf(model roster.Model, view gallery.Gallery) modelResponsePayload {
	featured, rest := flatten(view)
	return modelResponsePayload{Model: model, FeaturedImage: featured, Gallery: rest}
}

func galleryResponseOf(view gallery.Gallery) galleryResponsePayload {
	featured, rest := flatten(view)
	return galleryResponsePayload{ModelID: view.ModelID.Int64(), FeaturedImage: featured, Gallery: rest}
}

// flatten splits a view into its featured image and the rest in ascending position.
func flatten(view gallery.Gallery) (*imageResponsePayload, []imageResponsePayload) {
	projection := gallery.Project(view.Images)
	rest := make([]imageResponsePayload, 0, len(projection.Rest))
	for _, image := range projection.Rest {
		rest = append(rest, imageResponseOf(image))
	}
	if projection.Featured == nil {
		return nil, rest
	}
	featured := imageResponseOf(*projection.Featured)
	return &featured, rest
}

func imageResponseOf(image gallery.Image) imageResponsePayload {
	return imageResponsePayload{
		ID:          image.ID,
		Position:    image.Position,
		URL:         payloadRoutePrefix + image.PayloadRef,
		ContentType: image.ContentType,
		Alt:         image.Alt,
	}
}

type realtimeEventPayload struct {
	ModelID         int64    `json:"modelId"`
	FeaturedImageID string   `json:"featuredImageId,omitempty"`
	ImageIDs        []string `json:"imageIds"`
	Timestamp       string   `json:"timestamp"`
	Source          string   `json:"source"`
}

func eventPayloadOf(message RealtimeMessage) realtimeEventPayload {
	return realtimeEventPayload{
		ModelID:         message.ModelID.Int64(),
		FeaturedImageID: message.FeaturedImageID,
		ImageIDs:        message.ImageIDs,
		Timestamp:       message.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:          realtimeSourceBackend,
	}
}

func heartbeatPayload(at time.Time) gin.H {
	return gin.H{"timestamp": at.UTC().Format(time.RFC3339Nano), "source": realtimeSourceBackend}
}
