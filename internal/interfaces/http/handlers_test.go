package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/application/service"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const draftID = "6f1c2b1e-8a4d-4b7e-9d2f-0c3a5e7b9d11"

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockDraftService struct {
	service.DraftService
	saveFunc   func(ctx context.Context, receipt entity.Receipt, imageRef, actor string) (*entity.Draft, bool, error)
	updateFunc func(ctx context.Context, id string, receipt entity.Receipt, actor string) (*entity.Draft, error)
	getFunc    func(ctx context.Context, id string) (*entity.Draft, error)
	listFunc   func(ctx context.Context, filter port.DraftFilter) ([]*entity.Draft, error)
	deleteFunc func(ctx context.Context, id, actor string) (bool, error)
}

func (m *mockDraftService) Save(ctx context.Context, receipt entity.Receipt, imageRef, actor string) (*entity.Draft, bool, error) {
	return m.saveFunc(ctx, receipt, imageRef, actor)
}

func (m *mockDraftService) Update(ctx context.Context, id string, receipt entity.Receipt, actor string) (*entity.Draft, error) {
	return m.updateFunc(ctx, id, receipt, actor)
}

func (m *mockDraftService) Get(ctx context.Context, id string) (*entity.Draft, error) {
	return m.getFunc(ctx, id)
}

func (m *mockDraftService) List(ctx context.Context, filter port.DraftFilter) ([]*entity.Draft, error) {
	return m.listFunc(ctx, filter)
}

func (m *mockDraftService) Delete(ctx context.Context, id, actor string) (bool, error) {
	return m.deleteFunc(ctx, id, actor)
}

type mockSendService struct {
	sendFunc func(ctx context.Context, ids []string, opts service.SendOptions) (*service.SendReport, error)
}

func (m *mockSendService) Send(ctx context.Context, ids []string, opts service.SendOptions) (*service.SendReport, error) {
	return m.sendFunc(ctx, ids, opts)
}

type mockAuditService struct {
	service.AuditService
	recentFunc func(ctx context.Context, limit int) ([]*event.Event, error)
	byTypeFunc func(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error)
	countFunc  func(ctx context.Context) (int64, error)
}

func (m *mockAuditService) GetRecent(ctx context.Context, limit int) ([]*event.Event, error) {
	return m.recentFunc(ctx, limit)
}

func (m *mockAuditService) GetByType(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error) {
	return m.byTypeFunc(ctx, eventType, limit)
}

func (m *mockAuditService) Count(ctx context.Context) (int64, error) {
	return m.countFunc(ctx)
}

func newTestServer(services Services) *Server {
	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	return NewServer(cfg, services, nopLogger{})
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "alice")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(Services{Health: func(ctx context.Context) (bool, interface{}) { return true, nil }})
		w, resp := do(t, s, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Success)
	})

	t.Run("unhealthy", func(t *testing.T) {
		s := newTestServer(Services{Health: func(ctx context.Context) (bool, interface{}) {
			return false, map[string]string{"roster": "not loaded"}
		}})
		w, resp := do(t, s, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.False(t, resp.Success)
	})
}

func TestSaveDraft(t *testing.T) {
	var gotActor, gotVendor string
	drafts := &mockDraftService{
		saveFunc: func(ctx context.Context, receipt entity.Receipt, imageRef, actor string) (*entity.Draft, bool, error) {
			gotActor, gotVendor = actor, receipt.VendorName
			return &entity.Draft{DraftID: draftID, Status: entity.StatusDraft, Receipt: receipt}, imageRef == "img/new.jpg", nil
		},
	}
	s := newTestServer(Services{Drafts: drafts})

	body := map[string]interface{}{
		"image_ref": "img/new.jpg",
		"receipt": map[string]interface{}{
			"receipt_date": "2024-04-01",
			"vendor_name":  " LAWSON\n",
			"total_amount": "1100",
		},
	}
	w, resp := do(t, s, http.MethodPost, "/api/drafts", body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "alice", gotActor)
	assert.Equal(t, "LAWSON", gotVendor)

	body["image_ref"] = "img/old.jpg"
	w, _ = do(t, s, http.MethodPost, "/api/drafts", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSaveDraft_BadBody(t *testing.T) {
	s := newTestServer(Services{Drafts: &mockDraftService{}})

	req := httptest.NewRequest(http.MethodPost, "/api/drafts", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", fmt.Errorf("failed to get draft: %w", entity.ErrDraftNotFound), http.StatusNotFound},
		{"immutable", &entity.ImmutabilityError{DraftID: draftID, Operation: "updated"}, http.StatusConflict},
		{"duplicate image", entity.ErrDuplicateImageRef, http.StatusConflict},
		{"contention", fmt.Errorf("failed: %w", entity.ErrStorageContention), http.StatusServiceUnavailable},
		{"other", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drafts := &mockDraftService{
				updateFunc: func(ctx context.Context, id string, receipt entity.Receipt, actor string) (*entity.Draft, error) {
					return nil, tt.err
				},
			}
			s := newTestServer(Services{Drafts: drafts})

			w, resp := do(t, s, http.MethodPut, "/api/drafts/"+draftID, DraftRequest{})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestErrorMapping_ValidationCarriesViolations(t *testing.T) {
	drafts := &mockDraftService{
		getFunc: func(ctx context.Context, id string) (*entity.Draft, error) {
			return nil, &entity.ValidationError{DraftID: id, Violations: []string{"missing vendor_name"}}
		},
	}
	s := newTestServer(Services{Drafts: drafts})

	w, resp := do(t, s, http.MethodGet, "/api/drafts/"+draftID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, []string{"missing vendor_name"}, resp.Violations)
}

func TestGetDraft_RejectsMalformedID(t *testing.T) {
	s := newTestServer(Services{Drafts: &mockDraftService{}})

	w, _ := do(t, s, http.MethodGet, "/api/drafts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDrafts(t *testing.T) {
	var got port.DraftFilter
	drafts := &mockDraftService{
		listFunc: func(ctx context.Context, filter port.DraftFilter) ([]*entity.Draft, error) {
			got = filter
			return nil, nil
		},
	}
	s := newTestServer(Services{Drafts: drafts})

	w, resp := do(t, s, http.MethodGet, "/api/drafts?status=DRAFT&location_id=aichi&limit=5000&offset=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, resp.Data)
	assert.Equal(t, entity.StatusDraft, got.Status)
	assert.Equal(t, "aichi", got.LocationID)
	assert.Equal(t, maxPageSize, got.Limit)
	assert.Equal(t, 10, got.Offset)

	w, _ = do(t, s, http.MethodGet, "/api/drafts?status=ARCHIVED", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodGet, "/api/drafts?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteDraft(t *testing.T) {
	var gotActor string
	drafts := &mockDraftService{
		deleteFunc: func(ctx context.Context, id, actor string) (bool, error) {
			gotActor = actor
			return true, nil
		},
	}
	s := newTestServer(Services{Drafts: drafts})

	w, _ := do(t, s, http.MethodDelete, "/api/drafts/"+draftID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "alice", gotActor)
}

func TestSendDrafts(t *testing.T) {
	var gotOpts service.SendOptions
	send := &mockSendService{
		sendFunc: func(ctx context.Context, ids []string, opts service.SendOptions) (*service.SendReport, error) {
			gotOpts = opts
			return &service.SendReport{
				Total:       1,
				FailedCount: 1,
				Results:     []service.SendResult{{DraftID: ids[0], Status: "validation_failed"}},
			}, nil
		},
	}
	s := newTestServer(Services{Send: send})

	w, resp := do(t, s, http.MethodPost, "/api/drafts/send", SendRequest{DraftIDs: []string{draftID}, Force: true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, service.SendOptions{Actor: "alice", Force: true}, gotOpts)

	w, _ = do(t, s, http.MethodPost, "/api/drafts/send", SendRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/drafts/send", SendRequest{DraftIDs: []string{draftID, draftID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditEndpoints(t *testing.T) {
	var gotLimit int
	var gotType event.Type
	audit := &mockAuditService{
		recentFunc: func(ctx context.Context, limit int) ([]*event.Event, error) {
			gotLimit = limit
			return []*event.Event{event.NewEvent(event.TypeDraftCreated, "", draftID, nil)}, nil
		},
		byTypeFunc: func(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error) {
			gotType = eventType
			return nil, nil
		},
		countFunc: func(ctx context.Context) (int64, error) { return 7, nil },
	}
	s := newTestServer(Services{Audit: audit})

	w, resp := do(t, s, http.MethodGet, "/api/audit/recent?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, gotLimit)
	assert.Len(t, resp.Data, 1)

	w, _ = do(t, s, http.MethodGet, "/api/audit/types/SEND_FAILED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, event.TypeSendFailed, gotType)

	w, _ = do(t, s, http.MethodGet, "/api/audit/types/DRAFT_ARCHIVED", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = do(t, s, http.MethodGet, "/api/audit/count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"count": float64(7)}, resp.Data)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(Services{Health: func(ctx context.Context) (bool, interface{}) { return true, nil }})

	w, _ := do(t, s, http.MethodGet, "/health", nil)
	minted := w.Header().Get(RequestIDHeader)
	assert.Len(t, minted, 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-42")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "trace-42", rec.Header().Get(RequestIDHeader))
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Mode = gin.TestMode
	s := NewServer(cfg, Services{Health: func(ctx context.Context) (bool, interface{}) { return true, nil }}, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Address() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
