package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-connect-go/internal/model"
	"rag-connect-go/internal/pipeline"
	"rag-connect-go/internal/repository"
	"rag-connect-go/internal/service"
)

// fakeConnectorService 允许按用例注入返回值。
type fakeConnectorService struct {
	conn    *model.Connector
	syncErr error
	asyncs  []bool
}

func (f *fakeConnectorService) Create(req service.CreateConnectorRequest) (*model.Connector, error) {
	return &model.Connector{ID: 1, Name: req.Name, SourceType: req.SourceType, SyncStatus: model.SyncStatusIdle}, nil
}

func (f *fakeConnectorService) Get(id uint) (*model.Connector, error) {
	if f.conn == nil {
		return nil, service.ErrConnectorNotFound
	}
	return f.conn, nil
}

func (f *fakeConnectorService) List() ([]model.Connector, error) {
	if f.conn == nil {
		return []model.Connector{}, nil
	}
	return []model.Connector{*f.conn}, nil
}

func (f *fakeConnectorService) Update(id uint, req service.UpdateConnectorRequest) (*model.Connector, error) {
	return f.conn, nil
}

func (f *fakeConnectorService) Delete(ctx context.Context, id uint) error { return nil }

func (f *fakeConnectorService) TriggerSync(ctx context.Context, id uint, async bool) error {
	f.asyncs = append(f.asyncs, async)
	return f.syncErr
}

func newTestRouter(svc service.ConnectorService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewConnectorHandler(svc)
	r.POST("/connectors", h.Create)
	r.GET("/connectors/:id", h.Get)
	r.POST("/connectors/:id/sync", h.TriggerSync)
	return r
}

func TestTriggerSyncOK(t *testing.T) {
	svc := &fakeConnectorService{conn: &model.Connector{ID: 1, Name: "n", SyncStatus: model.SyncStatusSuccess}}
	r := newTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectors/1/sync", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []bool{false}, svc.asyncs)
}

func TestTriggerSyncAsyncAccepted(t *testing.T) {
	svc := &fakeConnectorService{conn: &model.Connector{ID: 1}}
	r := newTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectors/1/sync?async=true", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, []bool{true}, svc.asyncs)
}

func TestTriggerSyncConflict(t *testing.T) {
	svc := &fakeConnectorService{
		conn:    &model.Connector{ID: 1, SyncStatus: model.SyncStatusSyncing},
		syncErr: repository.ErrSyncInProgress,
	}
	r := newTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectors/1/sync", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTriggerSyncNoContent(t *testing.T) {
	svc := &fakeConnectorService{
		conn:    &model.Connector{ID: 1},
		syncErr: pipeline.ErrNoContent,
	}
	r := newTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectors/1/sync", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "no content retrieved from source")
}

func TestTriggerSyncNotFound(t *testing.T) {
	svc := &fakeConnectorService{syncErr: service.ErrConnectorNotFound}
	r := newTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectors/42/sync", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetInvalidID(t *testing.T) {
	r := newTestRouter(&fakeConnectorService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/connectors/abc", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateConnector(t *testing.T) {
	r := newTestRouter(&fakeConnectorService{})

	body := `{"name": "my-notes", "source_type": "manual", "config": {"text": "hello"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectors", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "my-notes")
}

func TestCreateConnectorMissingName(t *testing.T) {
	r := newTestRouter(&fakeConnectorService{})

	body := `{"source_type": "manual"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectors", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
