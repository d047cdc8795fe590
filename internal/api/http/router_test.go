package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "equiprent-backend/internal/api/http"
	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/qrcode"
	"equiprent-backend/internal/repository/memory"
	"equiprent-backend/internal/security"
	"equiprent-backend/internal/service"
	"equiprent-backend/internal/storage"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	t      *testing.T
	router http.Handler
	apiKey string
	files  storage.Storage
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.NewStore()
	deps := service.Deps{
		Store:      store,
		Settings:   service.DefaultSettings(),
		Renderer:   qrcode.NewGenerator(qrcode.Options{OutputSize: 200}),
		Invoicing:  service.NewInvoiceBook(store),
		Activities: service.NewActivityLog(store),
	}
	files, err := storage.NewLocalStorage("http://localhost:8080", t.TempDir())
	require.NoError(t, err)
	deps.Publisher = service.NewStoragePublisher(files)

	tokens := security.NewTokenManager("test-secret", time.Minute)
	projects := service.NewProjectService(deps, service.NewAllocator(deps))
	svc := api.Services{
		Equipment: service.NewEquipmentService(deps),
		Units:     service.NewUnitService(deps),
		Projects:  projects,
		Returns:   service.NewReturnService(deps, projects),
		Scans:     service.NewScanService(deps, projects),
		Bulk:      service.NewBulkSerialService(deps),
		Reports:   service.NewReportService(deps),
		Auth:      service.NewAuthService(deps, tokens),
	}
	key, _, err := svc.Auth.IssueAPIKey(context.Background(), "front desk", "")
	require.NoError(t, err)

	return &testAPI{t: t, router: api.NewRouter(svc, tokens, files), apiKey: key, files: files}
}

func (a *testAPI) raw(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// call sends an authenticated request and decodes the envelope.
func (a *testAPI) call(method, path string, body any) (int, envelope) {
	a.t.Helper()
	rec := a.raw(method, path, body, http.Header{"X-Api-Key": {a.apiKey}})
	var env envelope
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func (a *testAPI) createEquipment(body map[string]any) domain.Equipment {
	a.t.Helper()
	status, env := a.call("POST", "/api/rental/equipment", body)
	require.Equal(a.t, http.StatusCreated, status, env.Message)
	return decode[domain.Equipment](a.t, env)
}

func (a *testAPI) lookup(serial string) service.UnitDetail {
	a.t.Helper()
	status, env := a.call("GET", "/api/rental/serial/"+serial, nil)
	require.Equal(a.t, http.StatusOK, status, env.Message)
	return decode[service.UnitDetail](a.t, env)
}

func TestRouter_PublicEndpoints(t *testing.T) {
	a := newTestAPI(t)

	rec := a.raw("GET", "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(api.RequestIDHeader))

	rec = a.raw("GET", "/healthz", nil, http.Header{api.RequestIDHeader: {"req-42"}})
	assert.Equal(t, "req-42", rec.Header().Get(api.RequestIDHeader))

	rec = a.raw("GET", "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rental_http_requests_total")
}

func TestRouter_Authentication(t *testing.T) {
	a := newTestAPI(t)

	t.Run("missing credentials", func(t *testing.T) {
		rec := a.raw("GET", "/api/rental/equipment", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, "UNAUTHORIZED", env.Code)
	})

	t.Run("bad api key", func(t *testing.T) {
		rec := a.raw("GET", "/api/rental/equipment", nil, http.Header{"X-Api-Key": {"rk_000000000000.bm9wZQ"}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token", func(t *testing.T) {
		rec := a.raw("POST", "/api/rental/auth/token", map[string]string{"api_key": a.apiKey}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		token := decode[struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
		}](t, env)
		assert.Equal(t, "Bearer", token.TokenType)

		rec = a.raw("GET", "/api/rental/equipment", nil, http.Header{"Authorization": {"Bearer " + token.AccessToken}})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = a.raw("GET", "/api/rental/equipment", nil, http.Header{"Authorization": {"Bearer nope"}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = a.raw("GET", "/api/rental/equipment", nil, http.Header{"Authorization": {token.AccessToken}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token exchange with bad key", func(t *testing.T) {
		rec := a.raw("POST", "/api/rental/auth/token", map[string]string{"api_key": "garbage"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = a.raw("POST", "/api/rental/auth/token", map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_RentalFlow(t *testing.T) {
	a := newTestAPI(t)

	eq := a.createEquipment(map[string]any{"name": "Projector", "daily_rate": 50, "serials": []string{"PRJ-1", "PRJ-2"}})
	assert.Equal(t, "EQ-0001", eq.Code)
	assert.Equal(t, domain.StockCounts{Available: 2, Total: 2}, eq.Stock)

	status, env := a.call("POST", "/api/rental/projects", map[string]any{
		"customer_name": "Acme Events",
		"lines":         []map[string]any{{"equipment_id": eq.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	p := decode[domain.Project](t, env)
	assert.Equal(t, "RNT/00001", p.Number)
	assert.Equal(t, domain.ProjectStateDraft, p.State)

	projectPath := fmt.Sprintf("/api/rental/projects/%d", p.ID)
	status, env = a.call("POST", projectPath+"/reserve", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	p = decode[domain.Project](t, env)
	assert.Equal(t, domain.ProjectStateReserved, p.State)
	require.Len(t, p.LineItems[0].UnitIDs, 1)

	status, env = a.call("GET", fmt.Sprintf("/api/rental/units/%d", p.LineItems[0].UnitIDs[0]), nil)
	require.Equal(t, http.StatusOK, status)
	serial := decode[service.UnitDetail](t, env).Unit.SerialNumber

	status, env = a.call("POST", "/api/rental/serial/rent", map[string]any{"serial": serial, "project_id": p.ID, "location": "dock"})
	require.Equal(t, http.StatusOK, status, env.Message)
	detail := decode[service.UnitDetail](t, env)
	assert.Equal(t, domain.UnitStatusRented, detail.Unit.Status)
	assert.Equal(t, "[Projector] "+serial+" (Rented)", detail.DisplayName)
	require.NotEmpty(t, detail.RecentScans)
	assert.Equal(t, "front desk", detail.RecentScans[0].ActingUser)

	t.Run("identifier image", func(t *testing.T) {
		rec := a.raw("GET", "/api/rental/serial/"+serial+"/identifier", nil, http.Header{"X-Api-Key": {a.apiKey}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		img, err := png.Decode(rec.Body)
		require.NoError(t, err)
		assert.Equal(t, 200, img.Bounds().Dx())
	})

	t.Run("published identifier is downloadable", func(t *testing.T) {
		url, err := a.files.GeneratePresignedDownloadURL(context.Background(), service.IdentifierKey(serial), time.Minute)
		require.NoError(t, err)
		rec := a.raw("GET", url[len("http://localhost:8080"):], nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

		rec = a.raw("GET", "/api/rental/files/x?key=identifiers/missing.png", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	status, env = a.call("POST", "/api/rental/serial/return", map[string]any{"serial": serial, "condition": "broken"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "Condition must be one of")

	status, env = a.call("POST", "/api/rental/serial/return", map[string]any{"serial": serial})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, domain.UnitStatusReturned, decode[service.UnitDetail](t, env).Unit.Status)

	status, env = a.call("GET", projectPath, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.ProjectStateReturned, decode[domain.Project](t, env).State)

	status, env = a.call("POST", projectPath+"/invoice", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	p = decode[domain.Project](t, env)
	assert.Equal(t, domain.ProjectStateInvoiced, p.State)
	require.NotNil(t, p.InvoiceRef)
	assert.Equal(t, "INV/000001", *p.InvoiceRef)

	status, _ = a.call("POST", projectPath+"/invoice", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = a.call("GET", "/api/rental/projects?state=invoiced", nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[struct {
		Projects []domain.Project `json:"projects"`
		Total    int32            `json:"total"`
	}](t, env)
	assert.EqualValues(t, 1, list.Total)
}

func TestRouter_ProjectReturnWithDamage(t *testing.T) {
	a := newTestAPI(t)
	eq := a.createEquipment(map[string]any{"name": "Speaker", "daily_rate": 20, "item_value": 800, "serials": []string{"SPK-1", "SPK-2"}})

	status, env := a.call("POST", "/api/rental/projects", map[string]any{
		"customer_name": "Acme Events",
		"lines":         []map[string]any{{"equipment_id": eq.ID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	p := decode[domain.Project](t, env)
	projectPath := fmt.Sprintf("/api/rental/projects/%d", p.ID)

	status, env = a.call("POST", projectPath+"/return", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PROJECT_STATE", env.Code)

	status, env = a.call("POST", projectPath+"/reserve", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	status, env = a.call("POST", projectPath+"/start", map[string]any{"signature": "sig-1"})
	require.Equal(t, http.StatusOK, status, env.Message)
	p = decode[domain.Project](t, env)
	assert.Equal(t, domain.ProjectStateOngoing, p.State)
	damaged := p.LineItems[0].UnitIDs[0]

	status, env = a.call("POST", projectPath+"/return", map[string]any{
		"lines": []map[string]any{{"unit_id": 99999, "condition": "lost"}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNIT_NOT_RENTED", env.Code)

	status, env = a.call("POST", projectPath+"/return", map[string]any{
		"signature": "sig-2",
		"lines":     []map[string]any{{"unit_id": damaged, "condition": "minor_damage", "damage_notes": "scratched grille"}},
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	p = decode[domain.Project](t, env)
	assert.Equal(t, domain.ProjectStateReturned, p.State)
	assert.True(t, p.HasDamage)
	assert.Equal(t, 100.0, p.DamageFee)
	assert.Equal(t, "sig-2", p.ReturnSignature)

	status, env = a.call("GET", fmt.Sprintf("/api/rental/units/%d", damaged), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.UnitStatusDamaged, decode[service.UnitDetail](t, env).Unit.Status)

	status, env = a.call("POST", fmt.Sprintf("/api/rental/units/%d/actions/set_repairing", damaged), map[string]any{"notes": "sent to workshop"})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, domain.UnitStatusRepairing, decode[domain.Unit](t, env).Status)

	status, _ = a.call("POST", fmt.Sprintf("/api/rental/units/%d/actions/explode", damaged), nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = a.call("GET", fmt.Sprintf("/api/rental/units/%d/history", damaged), nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, decode[[]domain.StatusHistoryEntry](t, env))
}

func TestRouter_EquipmentTools(t *testing.T) {
	a := newTestAPI(t)
	eq := a.createEquipment(map[string]any{"name": "Barrier", "code": "BAR", "daily_rate": 5})
	equipmentPath := fmt.Sprintf("/api/rental/equipment/%d", eq.ID)

	status, env := a.call("POST", "/api/rental/equipment", map[string]any{"daily_rate": 5})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Name is required", env.Message)

	status, env = a.call("POST", equipmentPath+"/serials/bulk", map[string]any{"quantity": 3, "preview": true})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, []string{"BAR-0001", "BAR-0002", "BAR-0003"}, decode[[]string](t, env))

	status, env = a.call("POST", equipmentPath+"/serials/bulk", map[string]any{"quantity": 3})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, []string{"BAR-0001", "BAR-0002", "BAR-0003"}, decode[service.BatchResult](t, env).Succeeded)

	status, env = a.call("POST", equipmentPath+"/serials/bulk", map[string]any{"quantity": 1001})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Quantity must be between 1 and 1000.", env.Message)

	status, env = a.call("POST", equipmentPath+"/identifiers/regenerate", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Len(t, decode[service.BatchResult](t, env).Succeeded, 3)

	status, env = a.call("GET", equipmentPath, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, decode[domain.Equipment](t, env).Stock.Available)

	status, _ = a.call("GET", "/api/rental/equipment/4242", nil)
	assert.Equal(t, http.StatusNotFound, status)

	t.Run("smart delete", func(t *testing.T) {
		u := a.lookup("BAR-0003")
		path := fmt.Sprintf("/api/rental/units/%d", u.Unit.ID)

		status, env := a.call("DELETE", path, nil)
		assert.Equal(t, http.StatusConflict, status)
		assert.True(t, decode[service.DeleteOutcome](t, env).ConfirmationRequired)

		status, env = a.call("DELETE", path+"?confirm=true", nil)
		require.Equal(t, http.StatusOK, status, env.Message)
		assert.True(t, decode[service.DeleteOutcome](t, env).Deleted)

		status, _ = a.call("GET", "/api/rental/serial/BAR-0003", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("audit", func(t *testing.T) {
		status, env := a.call("GET", "/api/rental/units/audit", nil)
		require.Equal(t, http.StatusOK, status)
		report := decode[struct {
			Consistent bool `json:"consistent"`
		}](t, env)
		assert.True(t, report.Consistent)
	})

	t.Run("exports", func(t *testing.T) {
		rec := a.raw("GET", "/api/rental/units/export.xlsx", nil, http.Header{"X-Api-Key": {a.apiKey}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "unit-register.xlsx")
		assert.Equal(t, "PK", rec.Body.String()[:2])

		rec = a.raw("GET", equipmentPath+"/labels.pdf", nil, http.Header{"X-Api-Key": {a.apiKey}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Equal(t, "%PDF", rec.Body.String()[:4])

		rec = a.raw("GET", "/api/rental/units/export.xlsx?equipment_id=abc", nil, http.Header{"X-Api-Key": {a.apiKey}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_ProjectLines(t *testing.T) {
	a := newTestAPI(t)
	eq := a.createEquipment(map[string]any{"name": "Chair", "daily_rate": 2, "serials": []string{"CH-1", "CH-2", "CH-3"}})

	status, env := a.call("POST", "/api/rental/projects", map[string]any{"customer_name": "Acme Events", "start_date": "05/04/2026"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = a.call("POST", "/api/rental/projects", map[string]any{"customer_name": "Acme Events"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	p := decode[domain.Project](t, env)
	projectPath := fmt.Sprintf("/api/rental/projects/%d", p.ID)

	status, env = a.call("POST", projectPath+"/reserve", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = a.call("POST", projectPath+"/lines", map[string]any{"equipment_id": eq.ID, "quantity": 2})
	require.Equal(t, http.StatusCreated, status, env.Message)
	li := decode[domain.LineItem](t, env)
	assert.Len(t, li.UnitIDs, 2)
	assert.Equal(t, eq.ID, li.EquipmentID)

	linePath := fmt.Sprintf("%s/lines/%d", projectPath, li.ID)
	status, env = a.call("PUT", linePath, map[string]any{"quantity": 3})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Len(t, decode[domain.LineItem](t, env).UnitIDs, 3)

	status, _ = a.call("PUT", linePath, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = a.call("PUT", linePath, map[string]any{"quantity": 0})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env = a.call("GET", projectPath, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[domain.Project](t, env).LineItems)

	status, env = a.call("POST", projectPath+"/lines", map[string]any{"equipment_id": eq.ID, "quantity": 1})
	require.Equal(t, http.StatusCreated, status, env.Message)
	status, env = a.call("POST", projectPath+"/reserve", nil)
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env = a.call("POST", projectPath+"/draft", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, domain.ProjectStateDraft, decode[domain.Project](t, env).State)

	status, env = a.call("POST", projectPath+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, domain.ProjectStateCancelled, decode[domain.Project](t, env).State)

	status, env = a.call("POST", projectPath+"/draft", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PROJECT_STATE", env.Code)
}
