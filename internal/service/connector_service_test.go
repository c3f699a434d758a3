package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rag-connect-go/internal/model"
	"rag-connect-go/internal/repository"
)

// memConnRepo 是 ConnectorRepository 的内存实现。
type memConnRepo struct {
	mu     sync.Mutex
	nextID uint
	conns  map[uint]*model.Connector
}

func newMemConnRepo() *memConnRepo {
	return &memConnRepo{nextID: 1, conns: make(map[uint]*model.Connector)}
}

func (r *memConnRepo) Create(conn *model.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.ID = r.nextID
	r.nextID++
	r.conns[conn.ID] = conn
	return nil
}

func (r *memConnRepo) FindByID(id uint) (*model.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *conn
	return &cp, nil
}

func (r *memConnRepo) FindAll() ([]model.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Connector, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out, nil
}

func (r *memConnRepo) Update(conn *model.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	return nil
}

func (r *memConnRepo) Delete(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	return nil
}

func (r *memConnRepo) TrySetSyncing(id uint, staleAfter time.Duration) error { return nil }
func (r *memConnRepo) MarkSyncSuccess(id uint, count int, at time.Time) error {
	return nil
}
func (r *memConnRepo) MarkSyncError(id uint, message string) error { return nil }

// cascadeDocRepo 记录级联删除调用。
type cascadeDocRepo struct {
	stubDocRepo
	deletedConnectors []uint
}

func (r *cascadeDocRepo) DeleteByConnector(ctx context.Context, connectorID uint) error {
	r.deletedConnectors = append(r.deletedConnectors, connectorID)
	return nil
}

var _ repository.ConnectorRepository = (*memConnRepo)(nil)

func TestConnectorServiceCreate(t *testing.T) {
	svc := NewConnectorService(newMemConnRepo(), &stubDocRepo{}, nil)

	conn, err := svc.Create(CreateConnectorRequest{
		Name:       "my-repo",
		SourceType: model.SourceTypeGitHub,
		Config:     model.ConnectorConfig{"repo": "acme/widgets"},
	})
	require.NoError(t, err)
	assert.NotZero(t, conn.ID)
	assert.Equal(t, model.SyncStatusIdle, conn.SyncStatus)
	assert.Equal(t, "acme/widgets", conn.ConfigValue("repo"))
}

func TestConnectorServiceCreateRejectsUnknownType(t *testing.T) {
	svc := NewConnectorService(newMemConnRepo(), &stubDocRepo{}, nil)

	_, err := svc.Create(CreateConnectorRequest{Name: "x", SourceType: "ftp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}

func TestConnectorServiceGetNotFound(t *testing.T) {
	svc := NewConnectorService(newMemConnRepo(), &stubDocRepo{}, nil)

	_, err := svc.Get(42)
	require.ErrorIs(t, err, ErrConnectorNotFound)
}

func TestConnectorServiceUpdate(t *testing.T) {
	repo := newMemConnRepo()
	svc := NewConnectorService(repo, &stubDocRepo{}, nil)
	conn, err := svc.Create(CreateConnectorRequest{
		Name:       "before",
		SourceType: model.SourceTypeManual,
		Config:     model.ConnectorConfig{"text": "old"},
	})
	require.NoError(t, err)

	updated, err := svc.Update(conn.ID, UpdateConnectorRequest{
		Name:   "after",
		Config: model.ConnectorConfig{"text": "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Name)
	assert.Equal(t, "new", updated.ConfigValue("text"))
	// 数据源类型保持不变
	assert.Equal(t, model.SourceTypeManual, updated.SourceType)
}

func TestConnectorServiceDeleteCascades(t *testing.T) {
	repo := newMemConnRepo()
	docRepo := &cascadeDocRepo{}
	svc := NewConnectorService(repo, docRepo, nil)
	conn, err := svc.Create(CreateConnectorRequest{
		Name:       "doomed",
		SourceType: model.SourceTypeManual,
		Config:     model.ConnectorConfig{"text": "bye"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), conn.ID))

	_, err = svc.Get(conn.ID)
	require.ErrorIs(t, err, ErrConnectorNotFound)
	assert.Equal(t, []uint{conn.ID}, docRepo.deletedConnectors)
}

func TestConnectorServiceDeleteNotFound(t *testing.T) {
	svc := NewConnectorService(newMemConnRepo(), &stubDocRepo{}, nil)
	err := svc.Delete(context.Background(), 99)
	require.ErrorIs(t, err, ErrConnectorNotFound)
}
