package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/waterbudget/internal/api"
	"github.com/lox/waterbudget/internal/auth"
	"github.com/lox/waterbudget/internal/dashboard"
	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/models"
	"github.com/lox/waterbudget/internal/observability"
	"github.com/lox/waterbudget/internal/planning"
	"github.com/lox/waterbudget/internal/store"
	"github.com/lox/waterbudget/internal/telemetry"
)

const secret = "test-secret-0123456789"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	handler http.Handler
	st      *store.Store
	north   int64
	south   int64
	channel int64
	orchard int64
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	logger := observability.Discard()
	st := store.New(db, logger)
	require.NoError(t, st.Migrate())

	ctx := context.Background()
	region, err := st.CreateRegion(ctx, "Lower Basin")
	require.NoError(t, err)
	north, err := st.CreateSystem(ctx, models.System{RegionID: region, Name: "North"})
	require.NoError(t, err)
	south, err := st.CreateSystem(ctx, models.System{RegionID: region, Name: "South"})
	require.NoError(t, err)
	facility, err := st.CreateFacility(ctx, models.StorageFacility{
		SystemID: north, Name: "Upper Pond", MaxVolume: sql.NullFloat64{Float64: 4_000_000, Valid: true},
	})
	require.NoError(t, err)
	channel, err := st.CreateChannel(ctx, models.Channel{FacilityID: facility, Code: "N-1"})
	require.NoError(t, err)
	require.NoError(t, st.UpsertCurvePoint(ctx, models.CurvePoint{Kind: models.ReadingIntake, DeviceID: channel, Gauge: 1.5, Volume: 420}))

	var hundred demand.Months
	for i := range hundred {
		hundred[i] = 100
	}
	orchard, err := st.CreateCrop(ctx, models.Crop{Name: "Orchard", Coefficients: hundred})
	require.NoError(t, err)

	aggregator := telemetry.NewAggregator(st, logger)
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC))
	svc := planning.NewService(st, aggregator, logger)
	composer := dashboard.NewComposer(st, aggregator, clock, logger)
	srv := api.NewServer(svc, composer, api.Options{Addr: ":0", JWTSecret: secret, Clock: clock}, logger)

	return fixture{handler: srv.Handler(), st: st, north: north, south: south, channel: channel, orchard: orchard}
}

func token(t *testing.T, all bool, systems ...int64) string {
	t.Helper()
	tok, err := auth.IssueToken([]byte(secret), "tester", systems, all, time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

func (f fixture) do(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/health", "", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodGet, "/health", "", "")
	w := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "waterbudget_http_request_seconds")
}

func TestAuthRequired(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/api/systems", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/systems", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := auth.IssueToken([]byte("another-secret-0123456"), "x", nil, true, time.Hour, time.Now())
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/api/systems", forged, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := auth.IssueToken([]byte(secret), "x", nil, true, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/api/systems", expired, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSystemsAreScoped(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/api/systems", token(t, false, f.south), "")
	require.Equal(t, http.StatusOK, w.Code)
	var systems []api.SystemView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &systems))
	require.Len(t, systems, 1)
	assert.Equal(t, "South", systems[0].Name)

	w = f.do(t, http.MethodGet, "/api/systems", token(t, true), "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &systems))
	assert.Len(t, systems, 2)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/crops?system=%d", f.north), token(t, false, f.south), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDemandRoundTrip(t *testing.T) {
	f := setup(t)
	tok := token(t, false, f.north)
	path := fmt.Sprintf("/api/demand/%d/2024", f.north)

	body := fmt.Sprintf(`{
		"farm_efficiency": 80,
		"conveyance_efficiency": 90,
		"rows": [
			{"crop": %d, "area": "10", "planting_ratio": 50, "consumption": ""},
			{"crop": "", "area": ""}
		]
	}`, f.orchard)
	w := f.do(t, http.MethodPut, path, tok, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1.0, decode(t, w)["rows"])

	w = f.do(t, http.MethodGet, path, tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	var d planning.Demand
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, 72.0, d.TotalEfficiency)
	assert.InDelta(t, 0.05, d.Series.Net[0], 1e-12)
	assert.InDelta(t, 0.0625, d.Series.Farm[0], 1e-12)
	assert.InDelta(t, 0.01, d.DashboardNet[0], 1e-12)

	w = f.do(t, http.MethodGet, path+"/grid", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	var grid demand.Grid
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grid))
	assert.Equal(t, 1, grid.Used)

	w = f.do(t, http.MethodGet, path+"/grid?format=csv", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 1+demand.TableCapacity+4)
	assert.True(t, strings.HasPrefix(lines[1], "Orchard,"))

	w = f.do(t, http.MethodGet, path+"/grid?format=xml", tok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDemandErrors(t *testing.T) {
	f := setup(t)
	tok := token(t, false, f.north)
	path := fmt.Sprintf("/api/demand/%d/2024", f.north)
	row := fmt.Sprintf(`{"crop": %d, "area": 10}`, f.orchard)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		field  string
	}{
		{"zero farm efficiency", http.MethodPut, path, `{"farm_efficiency": 0, "conveyance_efficiency": 90, "rows": [` + row + `]}`, http.StatusBadRequest, "farm"},
		{"conveyance above 100", http.MethodPut, path, `{"farm_efficiency": 80, "conveyance_efficiency": 120, "rows": [` + row + `]}`, http.StatusBadRequest, "conveyance"},
		{"negative area", http.MethodPut, path, fmt.Sprintf(`{"farm_efficiency": 80, "conveyance_efficiency": 90, "rows": [{"crop": %d, "area": -1}]}`, f.orchard), http.StatusBadRequest, "area"},
		{"no rows", http.MethodPut, path, `{"farm_efficiency": 80, "conveyance_efficiency": 90, "rows": []}`, http.StatusBadRequest, ""},
		{"malformed body", http.MethodPut, path, `{"rows": `, http.StatusBadRequest, ""},
		{"unknown crop", http.MethodPut, path, `{"farm_efficiency": 80, "conveyance_efficiency": 90, "rows": [{"crop": 999, "area": 1}]}`, http.StatusBadRequest, "crop"},
		{"other system", http.MethodPut, fmt.Sprintf("/api/demand/%d/2024", f.south), `{"farm_efficiency": 80, "conveyance_efficiency": 90, "rows": [` + row + `]}`, http.StatusForbidden, ""},
		{"missing record", http.MethodGet, path, "", http.StatusNotFound, ""},
		{"bad system", http.MethodGet, "/api/demand/abc/2024", "", http.StatusBadRequest, ""},
		{"bad year", http.MethodGet, fmt.Sprintf("/api/demand/%d/20x4", f.north), "", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tok, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode(t, w)
			assert.NotEmpty(t, body["error"])
			if tt.field != "" {
				assert.Equal(t, tt.field, body["field"])
			}
		})
	}
}

func TestAllocationErrorRowMatchesMessage(t *testing.T) {
	f := setup(t)
	tok := token(t, false, f.north)
	path := fmt.Sprintf("/api/demand/%d/2024", f.north)
	body := fmt.Sprintf(`{"farm_efficiency": 80, "conveyance_efficiency": 90, "rows": [{}, {"crop": %d, "area": "x"}]}`, f.orchard)

	w := f.do(t, http.MethodPut, path, tok, body)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	got := decode(t, w)
	assert.Equal(t, 2.0, got["row"])
	assert.Equal(t, "area", got["field"])
	assert.Contains(t, got["error"], "row 2:")
}

func TestCurveVolume(t *testing.T) {
	f := setup(t)
	tok := token(t, true)
	path := fmt.Sprintf("/api/curves/intake/%d/volume", f.channel)

	w := f.do(t, http.MethodPost, path, tok, `{"gauge": 1.5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 420.0, decode(t, w)["volume_m3"])

	w = f.do(t, http.MethodPost, path, tok, `{"gauge": 2}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, path, tok, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/curves/weir/%d/volume", f.channel), tok, `{"gauge": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/curves/intake/999/volume", tok, `{"gauge": 1.5}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, path, token(t, false, f.south), `{"gauge": 1.5}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDashboardAndTelemetry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := token(t, true)

	_, err := f.st.BulkReplace(ctx, store.BulkReplaceInput{
		SystemID: f.north, Year: 2024, FarmEfficiency: 80, ConveyanceEfficiency: 90,
		Rows: []demand.RowInput{{Crop: demand.NumberOf(float64(f.orchard)), Area: demand.NumberOf(1000)}},
	})
	require.NoError(t, err)

	march := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)
	for i, gauge := range []float64{1.5, 7} {
		_, err := f.st.InsertReading(ctx, models.Reading{
			Kind: models.ReadingIntake, DeviceID: f.channel, ObservedAt: march.Add(time.Duration(i) * time.Hour),
			Gauge: sql.NullFloat64{Float64: gauge, Valid: true},
		})
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/api/dashboard?year=2024", tok, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	months, ok := body["months"].([]any)
	require.True(t, ok)
	assert.Len(t, months, 12)
	suff := body["sufficiency"].(map[string]any)
	assert.Equal(t, 6.0, suff["current_month"])
	assert.Equal(t, "Insufficient", suff["verdict"])
	assert.Len(t, body["curve_failures"], 1)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/telemetry/%d/2024", f.north), tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	intake := body["intake"].(map[string]any)
	assert.Equal(t, 420.0, intake["total"])
	assert.Len(t, body["curve_failures"], 1)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/dashboard?year=2024&system=%d", f.north), token(t, false, f.south), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/dashboard?year=abc", tok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFacilities(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	facilities, err := f.st.ListFacilities(ctx, &f.north)
	require.NoError(t, err)
	require.Len(t, facilities, 1)

	_, err = f.st.InsertReading(ctx, models.Reading{
		Kind: models.ReadingStorage, DeviceID: facilities[0].ID,
		ObservedAt: time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
		Volume:     sql.NullFloat64{Float64: 1_000_000, Valid: true},
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/facilities", token(t, true), "")
	require.Equal(t, http.StatusOK, w.Code)
	var views []api.FacilityView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.NotNil(t, views[0].FillRatio)
	assert.Equal(t, 25.0, *views[0].FillRatio)

	w = f.do(t, http.MethodGet, "/api/facilities", token(t, false, f.south), "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Empty(t, views)
}

func TestYearlyEndpoints(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := token(t, true)

	for year, area := range map[int]float64{2023: 10, 2024: 15} {
		_, err := f.st.BulkReplace(ctx, store.BulkReplaceInput{
			SystemID: f.north, Year: year, FarmEfficiency: 80, ConveyanceEfficiency: 90,
			Rows: []demand.RowInput{{Crop: demand.NumberOf(float64(f.orchard)), Area: demand.NumberOf(area)}},
		})
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/api/yearly/summary", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 2024.0, body["year"], "defaults to the clock's year")
	assert.Equal(t, 15.0, body["total_area"])

	w = f.do(t, http.MethodGet, "/api/yearly/compare?year1=2023&year2=2024", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50.0, decode(t, w)["area_change"])

	w = f.do(t, http.MethodGet, "/api/yearly/compare?year1=2023", tok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
