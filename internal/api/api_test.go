package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mautops/batch-approval/internal/api"
	"github.com/mautops/batch-approval/internal/approval"
	"github.com/mautops/batch-approval/internal/config"
	"github.com/mautops/batch-approval/internal/database"
	"github.com/mautops/batch-approval/internal/integration"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/mautops/batch-approval/internal/service"
	"github.com/mautops/batch-approval/internal/storage"
	"github.com/mautops/batch-approval/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	db     *gorm.DB
	router *gin.Engine
	form   uint
	town   uint
}

// setupServer 两级审批链:town 的 local 审批人在前,region 的 chief 审批人在后
func setupServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	store, err := storage.OpenSnapshotStore(config.SnapshotConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	admins := repository.NewAdministrationRepository(db)
	region := &model.AdministrationModel{Name: "Region"}
	require.NoError(t, admins.Save(ctx, region))
	town := &model.AdministrationModel{Name: "Town", ParentID: &region.ID}
	require.NoError(t, admins.Save(ctx, town))
	form := &model.FormModel{Name: "Registration"}
	require.NoError(t, repository.NewFormRepository(db).Save(ctx, form))

	access := repository.NewAccessRepository(db)
	approverRole := &model.RoleModel{Name: "Approver", CanApprove: true}
	require.NoError(t, access.SaveRole(ctx, approverRole))
	clerkRole := &model.RoleModel{Name: "Clerk", CanSubmit: true}
	require.NoError(t, access.SaveRole(ctx, clerkRole))
	password := "x"
	for _, u := range []struct {
		id   string
		adm  uint
		role uint
	}{{"chief", region.ID, approverRole.ID}, {"local", town.ID, approverRole.ID}, {"clerk", town.ID, clerkRole.ID}} {
		require.NoError(t, access.SaveUser(ctx, &model.UserModel{ID: u.id, Email: u.id + "@example.org", Password: &password}))
		require.NoError(t, access.Grant(ctx, &model.AccessModel{UserID: u.id, AdministrationID: u.adm, RoleID: u.role}))
		require.NoError(t, access.AssignForm(ctx, u.id, form.ID))
	}

	promoter := submission.NewPromoter(db, store, nil, nil)
	manager := integration.NewBatchManager(db, promoter, nil, nil)
	router := api.SetupRoutes(api.RouterOptions{
		Config:       config.Default(),
		DB:           db,
		Snapshots:    store,
		BatchService: service.NewBatchService(manager, service.NewAuditLogService(repository.NewAuditLogRepository(db)), nil, nil),
		QueryService: service.NewBatchQueryService(manager),
	})
	return &testServer{db: db, router: router, form: form.ID, town: town.ID}
}

func (s *testServer) submission(t *testing.T) uint {
	sub := &model.SubmissionModel{FormID: s.form, AdministrationID: s.town, IsPending: true}
	require.NoError(t, repository.NewSubmissionRepository(s.db).Save(context.Background(), sub))
	return sub.ID
}

func (s *testServer) do(method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type batchResponse struct {
	Code int `json:"code"`
	Data struct {
		ID    uint   `json:"ID"`
		State string `json:"state"`
	} `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestBatchAPI_CreateAndDecide(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPost, "/api/v1/batches", "clerk", map[string]interface{}{
		"name":           "April",
		"submission_ids": []uint{s.submission(t)},
		"comment":        "ready",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created batchResponse
	decode(t, w, &created)
	assert.Equal(t, "in_review", created.Data.State)
	base := fmt.Sprintf("/api/v1/batches/%d", created.Data.ID)

	// 越级审批返回 412 和阻塞的审批记录
	w = s.do(http.MethodPost, base+"/approve", "chief", nil)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	var blocked api.ErrorResponse
	decode(t, w, &blocked)
	require.NotNil(t, blocked.BlockingRecordID)
	assert.Equal(t, string(approval.KindPreconditionFailed), blocked.Message)

	w = s.do(http.MethodPost, base+"/approve", "local", map[string]string{"comment": "fine"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/approve", "local", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, base+"/approve", "chief", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var approved batchResponse
	decode(t, w, &approved)
	assert.Equal(t, "approved", approved.Data.State)

	w = s.do(http.MethodGet, base+"/approvers", "clerk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chain struct {
		Data []integration.ApproverView `json:"data"`
	}
	decode(t, w, &chain)
	require.Len(t, chain.Data, 2)
	assert.Equal(t, "local", chain.Data[0].UserID)
	assert.Equal(t, "Town", chain.Data[0].AdministrationName)

	w = s.do(http.MethodGet, base+"/comments", "clerk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var comments struct {
		Data []model.BatchCommentModel `json:"data"`
	}
	decode(t, w, &comments)
	assert.Len(t, comments.Data, 2)

	// 只记录成功的操作
	w = s.do(http.MethodGet, base+"/audit-logs", "clerk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var audit struct {
		Data []model.AuditLogModel `json:"data"`
	}
	decode(t, w, &audit)
	assert.Len(t, audit.Data, 3)

	w = s.do(http.MethodGet, "/api/v1/batches?state=approved&page_size=10", "clerk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page api.PaginatedResponse
	decode(t, w, &page)
	assert.Equal(t, int64(1), page.Pagination.Total)
	assert.Equal(t, 10, page.Pagination.PageSize)
}

func TestBatchAPI_ErrorMapping(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPost, "/api/v1/batches", "", map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/v1/batches", "clerk", map[string]interface{}{"name": "x", "submission_ids": []uint{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/batches", "clerk", map[string]interface{}{"name": "x", "submission_ids": []uint{404}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/batches/77", "clerk", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/batches/abc", "clerk", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/batches?sort_by=password", "clerk", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/batches?approved=perhaps", "clerk", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, api.StatusOf(approval.NotFound("x")))
	assert.Equal(t, http.StatusPreconditionFailed, api.StatusOf(approval.BlockedBy(3, "x")))
	assert.Equal(t, http.StatusConflict, api.StatusOf(fmt.Errorf("wrapped: %w", approval.Conflict("x"))))
	assert.Equal(t, http.StatusBadRequest, api.StatusOf(approval.ValidationFailed("x")))
	assert.Equal(t, http.StatusUnauthorized, api.StatusOf(service.ErrUnauthenticated))
	assert.Equal(t, http.StatusInternalServerError, api.StatusOf(errors.New("boom")))
}

func TestMiddleware_HealthRequestIDAndCORS(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Checks["database"])
	assert.Equal(t, "healthy", health.Checks["snapshots"])
	assert.Equal(t, "not configured", health.Checks["openfga"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/batches", nil)
	req.Header.Set("Origin", "https://example.org")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.RateLimitMiddleware(0.001, 1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2"))
}

func TestNoRoute_ReturnsJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := api.SetupRoutes(api.RouterOptions{Config: config.Default()})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "route not found", body.Message)
}

func TestNewLoggerFromConfig(t *testing.T) {
	file := t.TempDir() + "/logs/app.log"
	logger, err := api.NewLoggerFromConfig(&config.LogConfig{Level: "warn", Format: "json", Output: "file", File: file})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.WithField("batch_id", 7).Warn("kept")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, api.ServiceName, entry["service"])
	assert.EqualValues(t, 7, entry["batch_id"])

	_, err = api.NewLoggerFromConfig(&config.LogConfig{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
	_, err = api.NewLoggerFromConfig(&config.LogConfig{Level: "info", Output: "syslog"})
	assert.Error(t, err)
}
