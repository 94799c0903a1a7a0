package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/portfolio/internal/auth"
	"github.com/MarcoPoloResearchLab/portfolio/internal/database"
	"github.com/MarcoPoloResearchLab/portfolio/internal/gallery"
	"github.com/MarcoPoloResearchLab/portfolio/internal/payload"
	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testPassword = "correct horse battery staple"

var databaseCounter atomic.Int64

type serverHarness struct {
	handler    http.Handler
	dispatcher *RealtimeDispatcher
	tokens     *auth.TokenIssuer
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.OpenSQLite(fmt.Sprintf("file:server_%d?mode=memory&cache=shared", databaseCounter.Add(1)), logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	hash, err := auth.HashForStorage(testPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	passwords, err := auth.NewPasswordVerifier(hash)
	if err != nil {
		t.Fatalf("failed to build password verifier: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        "portfolio-auth",
		Audience:      "portfolio-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	authorizer := auth.AnyOf(tokens, passwords)

	files, err := payload.NewFilesystemStore(afero.NewMemMapFs(), "uploads")
	if err != nil {
		t.Fatalf("failed to build payload store: %v", err)
	}
	payloads, err := payload.NewGuard(files, "1MB", nil)
	if err != nil {
		t.Fatalf("failed to build payload guard: %v", err)
	}

	registry := prometheus.NewRegistry()
	dispatcher := NewRealtimeDispatcher()
	rosterService, err := roster.NewService(roster.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build roster service: %v", err)
	}
	galleryService, err := gallery.NewService(gallery.ServiceConfig{
		Database:   db,
		Authorizer: authorizer,
		Payloads:   payloads,
		Notifier:   dispatcher,
		Metrics:    gallery.NewMetrics(registry),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build gallery service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Authorizer:        authorizer,
		Tokens:            tokens,
		Passwords:         passwords,
		Roster:            rosterService,
		Gallery:           galleryService,
		Payloads:          payloads,
		Realtime:          dispatcher,
		Gatherer:          registry,
		Logger:            logger,
		MaxAttempts:       3,
		MaxUploadBytes:    1000 * 1000,
		HeartbeatInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &serverHarness{handler: handler, dispatcher: dispatcher, tokens: tokens}
}

func (h *serverHarness) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = http.NoBody
	}
	request := httptest.NewRequest(method, path, body)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *serverHarness) doJSON(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}
	return h.do(t, method, path, token, bytes.NewReader(encoded), "application/json")
}

func (h *serverHarness) login(t *testing.T) string {
	t.Helper()
	recorder := h.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{"password_hash": auth.ClientDigest(testPassword)})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var response authResponsePayload
	decodeBody(t, recorder, &response)
	if response.TokenType != "Bearer" || response.AccessToken == "" || response.ExpiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("unexpected login response %+v", response)
	}
	return response.AccessToken
}

func (h *serverHarness) createModel(t *testing.T, token, name string) modelResponsePayload {
	t.Helper()
	recorder := h.doJSON(t, http.MethodPost, "/models", token, map[string]interface{}{"name": name})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create model failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var model modelResponsePayload
	decodeBody(t, recorder, &model)
	return model
}

func (h *serverHarness) upload(t *testing.T, token string, modelID int64, content []byte, alt string) imageResponsePayload {
	t.Helper()
	recorder := h.uploadRaw(t, token, modelID, content, alt)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("upload failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var image imageResponsePayload
	decodeBody(t, recorder, &image)
	return image
}

func (h *serverHarness) uploadRaw(t *testing.T, token string, modelID int64, content []byte, alt string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.WriteField("alt", alt); err != nil {
		t.Fatalf("failed to write alt field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return h.do(t, http.MethodPost, fmt.Sprintf("/models/%d/images", modelID), token, &body, writer.FormDataContentType())
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func assertErrorBody(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decodeBody(t, recorder, &body)
	if body.Code != code {
		t.Fatalf("expected code %q, got %q", code, body.Code)
	}
	if !strings.HasSuffix(code, "."+body.Error) && body.Error != code {
		t.Fatalf("expected reason %q to end code %q", body.Error, code)
	}
}

func pngBytes(variant byte) []byte {
	return append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00"), variant)
}

func TestAdminGalleryFlowOverHTTP(t *testing.T) {
	harness := newServerHarness(t)
	token := harness.login(t)

	model := harness.createModel(t, token, "Zoë Saldaña")
	if model.Slug != "zoe-saldana" {
		t.Fatalf("expected folded slug, got %q", model.Slug)
	}
	if model.FeaturedImage != nil || len(model.Gallery) != 0 {
		t.Fatalf("expected empty gallery for new model, got %+v", model)
	}

	first := harness.upload(t, token, model.ID, pngBytes(1), "first")
	second := harness.upload(t, token, model.ID, pngBytes(2), "second")
	third := harness.upload(t, token, model.ID, pngBytes(3), "third")
	if first.Position != 0 || second.Position != 1 || third.Position != 2 {
		t.Fatalf("expected appended positions 0,1,2, got %d,%d,%d", first.Position, second.Position, third.Position)
	}

	recorder := harness.do(t, http.MethodGet, fmt.Sprintf("/models/%d", model.ID), "", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("get model failed with %d", recorder.Code)
	}
	var fetched modelResponsePayload
	decodeBody(t, recorder, &fetched)
	if fetched.FeaturedImage == nil || fetched.FeaturedImage.ID != first.ID {
		t.Fatalf("expected first upload featured, got %+v", fetched.FeaturedImage)
	}
	if len(fetched.Gallery) != 2 || fetched.Gallery[0].ID != second.ID || fetched.Gallery[1].ID != third.ID {
		t.Fatalf("expected gallery without featured image, got %+v", fetched.Gallery)
	}

	recorder = harness.doJSON(t, http.MethodPost, fmt.Sprintf("/models/%d/images/reorder", model.ID), token,
		map[string]interface{}{"ordered_image_ids": []string{third.ID, first.ID, second.ID}})
	if recorder.Code != http.StatusOK {
		t.Fatalf("reorder failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var reordered galleryResponsePayload
	decodeBody(t, recorder, &reordered)
	if reordered.FeaturedImage == nil || reordered.FeaturedImage.ID != third.ID {
		t.Fatalf("expected third featured after reorder, got %+v", reordered.FeaturedImage)
	}

	recorder = harness.do(t, http.MethodGet, "/models", "", nil, "")
	var listed []modelResponsePayload
	decodeBody(t, recorder, &listed)
	if len(listed) != 1 || listed[0].FeaturedImage == nil || listed[0].FeaturedImage.ID != third.ID {
		t.Fatalf("expected list to report third featured, got %+v", listed)
	}

	recorder = harness.do(t, http.MethodDelete, fmt.Sprintf("/models/%d/images/%s", model.ID, third.ID), token, nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete image failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var afterDelete galleryResponsePayload
	decodeBody(t, recorder, &afterDelete)
	if afterDelete.FeaturedImage == nil || afterDelete.FeaturedImage.ID != first.ID || afterDelete.FeaturedImage.Position != 0 {
		t.Fatalf("expected first promoted to position 0, got %+v", afterDelete.FeaturedImage)
	}
	if len(afterDelete.Gallery) != 1 || afterDelete.Gallery[0].ID != second.ID || afterDelete.Gallery[0].Position != 2 {
		t.Fatalf("expected second to keep position 2, got %+v", afterDelete.Gallery)
	}

	recorder = harness.do(t, http.MethodGet, first.URL, "", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("payload fetch failed with %d", recorder.Code)
	}
	if !bytes.Equal(recorder.Body.Bytes(), pngBytes(1)) {
		t.Fatalf("unexpected payload bytes")
	}
	if recorder.Header().Get("Cache-Control") != payloadCacheControl {
		t.Fatalf("expected immutable cache headers, got %q", recorder.Header().Get("Cache-Control"))
	}
	if recorder.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("expected image/png, got %q", recorder.Header().Get("Content-Type"))
	}

	conditional := httptest.NewRequest(http.MethodGet, first.URL, http.NoBody)
	conditional.Header.Set("If-None-Match", recorder.Header().Get("ETag"))
	notModified := httptest.NewRecorder()
	harness.handler.ServeHTTP(notModified, conditional)
	if notModified.Code != http.StatusNotModified {
		t.Fatalf("expected 304 for matching etag, got %d", notModified.Code)
	}

	recorder = harness.do(t, http.MethodGet, third.URL, "", nil, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected released payload to be gone, got %d", recorder.Code)
	}
}

func TestMutationsRequireAdminProof(t *testing.T) {
	harness := newServerHarness(t)

	recorder := harness.doJSON(t, http.MethodPost, "/models", "", map[string]string{"name": "Nobody"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without proof, got %d", recorder.Code)
	}
	recorder = harness.doJSON(t, http.MethodPost, "/models", "guess", map[string]string{"name": "Nobody"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rejected proof, got %d", recorder.Code)
	}

	recorder = harness.do(t, http.MethodGet, "/models", "", nil, "")
	var listed []modelResponsePayload
	decodeBody(t, recorder, &listed)
	if len(listed) != 0 {
		t.Fatalf("expected rejected mutations to leave no models, got %d", len(listed))
	}

	digestModel := harness.createModel(t, auth.ClientDigest(testPassword), "Digest Holder")
	if digestModel.ID == 0 {
		t.Fatalf("expected password digest to authorize mutations")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	harness := newServerHarness(t)

	recorder := harness.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{"password_hash": auth.ClientDigest("wrong")})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	recorder = harness.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing hash, got %d", recorder.Code)
	}
}

func TestGalleryErrorsMapToStatusCodes(t *testing.T) {
	harness := newServerHarness(t)
	token := harness.login(t)
	model := harness.createModel(t, token, "Errors")
	image := harness.upload(t, token, model.ID, pngBytes(9), "")
	reorderPath := fmt.Sprintf("/models/%d/images/reorder", model.ID)

	recorder := harness.doJSON(t, http.MethodPost, reorderPath, token, map[string]interface{}{"ordered_image_ids": []string{image.ID, image.ID}})
	assertErrorBody(t, recorder, http.StatusBadRequest, "gallery.reorder.duplicate_image")

	recorder = harness.doJSON(t, http.MethodPost, reorderPath, token, map[string]interface{}{"ordered_image_ids": []string{"ghost"}})
	assertErrorBody(t, recorder, http.StatusNotFound, "gallery.reorder.unknown_image")

	recorder = harness.doJSON(t, http.MethodPost, reorderPath, token, map[string]interface{}{"image_positions": map[string]int{image.ID: -1}})
	assertErrorBody(t, recorder, http.StatusBadRequest, "gallery.reorder_partial.negative_position")

	recorder = harness.doJSON(t, http.MethodPost, reorderPath, token, map[string]interface{}{"image_positions": map[string]int{image.ID: 4}})
	assertErrorBody(t, recorder, http.StatusBadRequest, "gallery.reorder_partial.featured_required")

	recorder = harness.doJSON(t, http.MethodPost, reorderPath, token, map[string]interface{}{
		"ordered_image_ids": []string{image.ID},
		"image_positions":   map[string]int{image.ID: 0},
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when both reorder forms are sent, got %d", recorder.Code)
	}

	recorder = harness.do(t, http.MethodDelete, fmt.Sprintf("/models/%d/images/ghost", model.ID), token, nil, "")
	assertErrorBody(t, recorder, http.StatusNotFound, "gallery.delete.image_not_found")

	recorder = harness.uploadRaw(t, token, 999, pngBytes(10), "")
	assertErrorBody(t, recorder, http.StatusNotFound, "gallery.upload.model_not_found")

	recorder = harness.uploadRaw(t, token, model.ID, []byte("plain text is not an image"), "")
	assertErrorBody(t, recorder, http.StatusUnprocessableEntity, "gallery.upload.payload_put_failed")

	recorder = harness.do(t, http.MethodGet, "/models/999", "", nil, "")
	assertErrorBody(t, recorder, http.StatusNotFound, "roster.get_model.not_found")

	recorder = harness.do(t, http.MethodGet, "/models/abc", "", nil, "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed model id, got %d", recorder.Code)
	}
}

func TestModelLifecycleOverHTTP(t *testing.T) {
	harness := newServerHarness(t)
	token := harness.login(t)
	first := harness.createModel(t, token, "Ada")
	second := harness.createModel(t, token, "Ada")
	if second.Slug != "ada-1" {
		t.Fatalf("expected suffixed slug, got %q", second.Slug)
	}

	recorder := harness.doJSON(t, http.MethodPut, fmt.Sprintf("/models/%d", first.ID), token, map[string]interface{}{
		"name":  "Ada Lovelace",
		"stats": map[string]string{"height": "170"},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("update failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var updated modelResponsePayload
	decodeBody(t, recorder, &updated)
	if updated.Name != "Ada Lovelace" || updated.Height != "170" || updated.Slug != "ada" {
		t.Fatalf("unexpected updated model %+v", updated.Model)
	}

	recorder = harness.doJSON(t, http.MethodPost, "/models/reorder", token, map[string]interface{}{"ordered_model_ids": []int64{second.ID, first.ID}})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("model reorder failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	recorder = harness.do(t, http.MethodGet, "/models", "", nil, "")
	var listed []modelResponsePayload
	decodeBody(t, recorder, &listed)
	if len(listed) != 2 || listed[0].ID != second.ID || listed[1].ID != first.ID {
		t.Fatalf("expected reordered list, got %+v", listed)
	}

	harness.upload(t, token, first.ID, pngBytes(20), "")
	recorder = harness.do(t, http.MethodDelete, fmt.Sprintf("/models/%d", first.ID), token, nil, "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("delete model failed with %d", recorder.Code)
	}
	recorder = harness.do(t, http.MethodGet, fmt.Sprintf("/models/%d", first.ID), "", nil, "")
	assertErrorBody(t, recorder, http.StatusNotFound, "roster.get_model.not_found")
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	harness := newServerHarness(t)
	token := harness.login(t)
	model := harness.createModel(t, token, "Metrics")
	harness.upload(t, token, model.ID, pngBytes(30), "")

	recorder := harness.do(t, http.MethodGet, "/healthz", "", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected healthy status, got %d", recorder.Code)
	}
	recorder = harness.do(t, http.MethodGet, "/metrics", "", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected metrics, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "gallery_operations_total") {
		t.Fatalf("expected gallery counters in metrics output")
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	testCases := []struct {
		name string
		deps Dependencies
		want error
	}{
		{name: "authorizer", deps: Dependencies{}, want: errMissingAuthorizer},
		{name: "tokens", deps: Dependencies{Authorizer: auth.AnyOf()}, want: errMissingTokenIssuer},
		{name: "passwords", deps: Dependencies{Authorizer: auth.AnyOf(), Tokens: &auth.TokenIssuer{}}, want: errMissingPasswords},
		{name: "roster", deps: Dependencies{Authorizer: auth.AnyOf(), Tokens: &auth.TokenIssuer{}, Passwords: &auth.PasswordVerifier{}}, want: errMissingRosterService},
		{name: "gallery", deps: Dependencies{Authorizer: auth.AnyOf(), Tokens: &auth.TokenIssuer{}, Passwords: &auth.PasswordVerifier{}, Roster: &roster.Service{}}, want: errMissingGalleryService},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewHTTPHandler(testCase.deps); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestAuthorizeRequestLogsRejectedProofAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/models", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		authorizer: auth.AnyOf(),
		logger:     zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if _, exists := ctx.Get(proofContextKey); exists {
		t.Fatalf("expected rejected proof to stay out of the context")
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "admin proof rejected" {
		t.Fatalf("unexpected log entry %+v", entries[0])
	}
}

func TestRespondErrorLogsServerFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{logger: zap.New(core)}

	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/models", http.NoBody)
	handler.respondError(ctx, errors.New("disk on fire"))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	if logs.FilterMessage("request failed").Len() != 1 {
		t.Fatalf("expected server failure to be logged")
	}

	recorder = httptest.NewRecorder()
	ctx, _ = gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/models/1", http.NoBody)
	handler.respondError(ctx, roster.ErrModelNotFound)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected client errors to stay out of the log, got %d entries", logs.Len())
	}
}

func TestClassifyErrorByKind(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{err: gallery.ErrValidation, want: http.StatusBadRequest},
		{err: gallery.ErrNotFound, want: http.StatusNotFound},
		{err: gallery.ErrConflictRetryable, want: http.StatusConflict},
		{err: gallery.ErrForbidden, want: http.StatusUnauthorized},
		{err: gallery.ErrUpstreamFailure, want: http.StatusBadGateway},
		{err: gallery.ErrConstraintViolation, want: http.StatusInternalServerError},
		{err: fmt.Errorf("wrapped: %w", payload.ErrRejected), want: http.StatusUnprocessableEntity},
		{err: roster.ErrInvalidModel, want: http.StatusBadRequest},
		{err: roster.ErrInvalidModelID, want: http.StatusBadRequest},
		{err: gallery.ErrInvalidImageID, want: http.StatusBadRequest},
	}
	for _, testCase := range testCases {
		if status, _ := classifyError(testCase.err); status != testCase.want {
			t.Fatalf("expected %d for %v, got %d", testCase.want, testCase.err, status)
		}
	}
}
