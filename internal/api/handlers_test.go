package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/wearable/internal/auth"
	"example.com/wearable/internal/domain"
)

func TestSyncEndpointSuccess(t *testing.T) {
	repo := &mockRepo{
		connection: &domain.Connection{UserID: "user-1", Active: true, HasCredentials: true},
		cipher:     encodeCreds(t),
	}
	provider := &mockProvider{
		activities: []domain.RemoteActivity{
			{ActivityID: "a-1", ActivityName: "Morning Run", ActivityType: "running", StartTime: "2024-06-18T07:00:00Z", DurationSeconds: 1800},
		},
	}
	handler := NewHandler(domain.NewService(repo, provider, plainCodec{}, nil))

	body := `{"user_id":"user-1","kind":"activity","start_date":"2024-06-17","end_date":"2024-06-18"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/sync", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims()))

	rr := httptest.NewRecorder()
	handler.sync(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp SyncResultView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Kind != "activity" {
		t.Fatalf("unexpected kind %s", resp.Kind)
	}
	if resp.Imported != 1 {
		t.Fatalf("expected imported 1 got %d", resp.Imported)
	}
	if resp.Skipped {
		t.Fatal("expected skipped false")
	}
}

func TestSyncEndpointRequiresWriteScope(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}, &mockProvider{}, plainCodec{}, nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/sync", strings.NewReader(`{}`))
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.sync(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestSyncEndpointRejectsBadKind(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}, &mockProvider{}, plainCodec{}, nil))

	body := `{"user_id":"user-1","kind":"sleep","end_date":"2024-06-18"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/sync", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims()))

	rr := httptest.NewRecorder()
	handler.sync(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestSyncEndpointMapsNotConnected(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}, &mockProvider{}, plainCodec{}, nil))

	body := `{"user_id":"user-9","kind":"activity","end_date":"2024-06-18"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/sync", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims()))

	rr := httptest.NewRecorder()
	handler.sync(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["type"] != "not_connected" {
		t.Fatalf("unexpected error type %s", resp["type"])
	}
}

func TestSummaryEndpointServesCachedRow(t *testing.T) {
	date := time.Date(2024, time.June, 18, 0, 0, 0, 0, time.UTC)
	repo := &mockRepo{
		summaries: map[string]domain.DailySummary{
			date.Format(time.DateOnly): {UserID: "user-1", Date: date, TotalSteps: 9300, TotalCalories: 2100},
		},
	}
	provider := &mockProvider{}
	handler := NewHandler(domain.NewService(repo, provider, plainCodec{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/summaries/2024-06-18?user_id=user-1", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.summaryByDate(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if provider.summaryCalls != 0 {
		t.Fatalf("expected no provider calls, got %d", provider.summaryCalls)
	}

	var resp SummaryView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TotalSteps != 9300 {
		t.Fatalf("expected 9300 steps got %d", resp.TotalSteps)
	}
	if resp.Date != "2024-06-18" {
		t.Fatalf("unexpected date %s", resp.Date)
	}
}

func TestSummaryEndpointRejectsBadDate(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}, &mockProvider{}, plainCodec{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/summaries/18-06-2024?user_id=user-1", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.summaryByDate(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestListActivitiesRequiresUserID(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}, &mockProvider{}, plainCodec{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.listActivities(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestConnectionStatus(t *testing.T) {
	last := time.Date(2024, time.June, 18, 6, 0, 0, 0, time.UTC)
	repo := &mockRepo{
		connection: &domain.Connection{UserID: "user-1", Active: true, HasCredentials: true, LastSyncAttempt: &last},
	}
	handler := NewHandler(domain.NewService(repo, &mockProvider{}, plainCodec{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/connection?user_id=user-1", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.connection(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ConnectionStatusView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Connected || !resp.IsActive || !resp.HasCredentials {
		t.Fatalf("unexpected status %+v", resp)
	}
	if resp.LastSyncTime == nil || !resp.LastSyncTime.Equal(last) {
		t.Fatalf("unexpected last sync time %v", resp.LastSyncTime)
	}
}

func TestConnectEndpointStoresCredentials(t *testing.T) {
	repo := &mockRepo{}
	handler := NewHandler(domain.NewService(repo, &mockProvider{}, plainCodec{}, nil))

	body := `{"user_id":"user-1","username":"runner","password":"s3cret"}`
	req := httptest.NewRequest(http.MethodPut, "/v1/connection", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims()))

	rr := httptest.NewRecorder()
	handler.connection(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if repo.savedCipher == "" {
		t.Fatal("expected credentials to be saved")
	}
}

func TestDisconnectWithoutConnection(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}, &mockProvider{}, plainCodec{}, nil))

	req := httptest.NewRequest(http.MethodDelete, "/v1/connection?user_id=user-9", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims()))

	rr := httptest.NewRecorder()
	handler.connection(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func writeClaims() *auth.Claims {
	return &auth.Claims{
		Subject: "tester",
		Scopes: map[string]struct{}{
			auth.ScopeSyncWrite: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func readClaims() *auth.Claims {
	return &auth.Claims{
		Subject: "tester",
		Scopes: map[string]struct{}{
			auth.ScopeSyncRead: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func encodeCreds(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(domain.Credentials{Username: "runner", Password: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

type mockRepo struct {
	connection  *domain.Connection
	cipher      string
	savedCipher string
	summaries   map[string]domain.DailySummary
	activities  []domain.Activity
	merged      []domain.Activity
}

func (m *mockRepo) Connection(_ context.Context, userID string) (*domain.Connection, error) {
	if m.connection != nil && m.connection.UserID == userID {
		return m.connection, nil
	}
	return nil, nil
}

func (m *mockRepo) SaveCredentials(_ context.Context, userID, cipher string) error {
	m.savedCipher = cipher
	m.connection = &domain.Connection{UserID: userID, Active: true, HasCredentials: true}
	return nil
}

func (m *mockRepo) SetConnectionActive(_ context.Context, _ string, active bool) error {
	if m.connection != nil {
		m.connection.Active = active
	}
	return nil
}

func (m *mockRepo) Credentials(_ context.Context, _ string) (string, error) {
	return m.cipher, nil
}

func (m *mockRepo) MergeActivities(_ context.Context, _ string, records []domain.Activity) (domain.MergeStats, error) {
	m.merged = append(m.merged, records...)
	return domain.MergeStats{Inserted: len(records)}, nil
}

func (m *mockRepo) MergeDailySummaries(_ context.Context, _ string, records []domain.DailySummary) (domain.MergeStats, error) {
	if m.summaries == nil {
		m.summaries = make(map[string]domain.DailySummary)
	}
	for _, r := range records {
		m.summaries[r.Date.Format(time.DateOnly)] = r
	}
	return domain.MergeStats{Inserted: len(records)}, nil
}

func (m *mockRepo) DailySummaryByDate(_ context.Context, _ string, date time.Time) (*domain.DailySummary, error) {
	if summary, ok := m.summaries[date.Format(time.DateOnly)]; ok {
		return &summary, nil
	}
	return nil, nil
}

func (m *mockRepo) ListActivities(_ context.Context, _ string, _ *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	if limit <= 0 || limit > len(m.activities) {
		limit = len(m.activities)
	}
	out := make([]domain.Activity, limit)
	copy(out, m.activities[:limit])
	return out, nil, nil
}

func (m *mockRepo) LatestActivityStart(context.Context, string) (*time.Time, error) {
	return nil, nil
}

func (m *mockRepo) LatestSummaryDate(context.Context, string) (*time.Time, error) {
	return nil, nil
}

type mockProvider struct {
	activities   []domain.RemoteActivity
	summaries    []domain.RemoteDailySummary
	summaryCalls int
}

func (p *mockProvider) Authenticate(context.Context, domain.Credentials) error { return nil }

func (p *mockProvider) Activities(_ context.Context, _ domain.Credentials, _, _ time.Time) ([]domain.RemoteActivity, error) {
	return p.activities, nil
}

func (p *mockProvider) DailySummaries(_ context.Context, _ domain.Credentials, _, _ time.Time) ([]domain.RemoteDailySummary, error) {
	return p.summaries, nil
}

func (p *mockProvider) DailySummary(_ context.Context, _ domain.Credentials, _ time.Time) (*domain.RemoteDailySummary, error) {
	p.summaryCalls++
	if len(p.summaries) == 0 {
		return nil, nil
	}
	return &p.summaries[0], nil
}

type plainCodec struct{}

func (plainCodec) Encrypt(plaintext []byte) (string, error) { return string(plaintext), nil }
func (plainCodec) Decrypt(cipher string) ([]byte, error)    { return []byte(cipher), nil }
