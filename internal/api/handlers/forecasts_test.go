package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citycast/internal/core"
	"citycast/internal/types"
)

type envelope[T any] struct {
	Data T                  `json:"data"`
	Meta *core.ResponseMeta `json:"meta"`
}

func do(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func TestListCities(t *testing.T) {
	rec := do(t, newTestRouter(t, newFakeRepo()), http.MethodGet, "/v1/cities", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope[CitiesResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Chennai", "Mumbai"}, body.Data.Cities)
}

func TestListCities_Errors(t *testing.T) {
	tests := []struct {
		name       string
		repo       *fakeRepo
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"empty", &fakeRepo{}, http.StatusServiceUnavailable, types.ErrCodeUnavailableNoCities},
		{
			"store down",
			&fakeRepo{discoverErr: types.NewAppError(types.ErrCodeUpstreamArtifactStore, "artifact store circuit open", nil)},
			http.StatusBadGateway, types.ErrCodeUpstreamArtifactStore,
		},
		{"plain error", &fakeRepo{discoverErr: errBoom}, http.StatusInternalServerError, types.ErrCodeInternalUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(t, tt.repo), http.MethodGet, "/v1/cities", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, string(tt.wantCode), errorCode(t, rec))
		})
	}
}

func TestGetForecast_Defaults(t *testing.T) {
	rec := do(t, newTestRouter(t, newFakeRepo()), http.MethodGet, "/v1/cities/Chennai/forecast", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body envelope[ForecastResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Nil(t, body.Meta)
	assert.Equal(t, "Chennai", body.Data.City)
	assert.Equal(t, "2025-10-18", body.Data.Start)
	require.Len(t, body.Data.Days, 14)

	first := body.Data.Days[0]
	assert.True(t, first.IsToday)
	assert.Equal(t, "Saturday", first.DayName)
	assert.Equal(t, "Oct 18", first.DateLabel)
	assert.Equal(t, 25.0, first.Temperature)
	assert.Equal(t, 20.0, first.Low)
	assert.Equal(t, "Clear/Sunny", first.Condition.Label)
	assert.Equal(t, types.OutcomePredicted, first.Outcome)

	assert.Equal(t, "Oct 31", body.Data.Days[13].DateLabel)
	assert.Equal(t, 14, body.Data.Summary.Days)
	assert.Equal(t, 25.0, body.Data.Summary.AvgTemperature)
}

func TestGetForecast_StartAndDays(t *testing.T) {
	rec := do(t, newTestRouter(t, newFakeRepo()), http.MethodGet, "/v1/cities/Mumbai/forecast?start=2025-12-30&days=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body envelope[ForecastResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data.Days, 3)
	assert.Equal(t, "Dec 30", body.Data.Days[0].DateLabel)
	assert.Equal(t, "Jan 01", body.Data.Days[2].DateLabel)
}

func TestGetForecast_Validation(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantCode types.ErrorCode
	}{
		{"zero days", "/v1/cities/Chennai/forecast?days=0", types.ErrCodeValidationDayCount},
		{"too many days", "/v1/cities/Chennai/forecast?days=32", types.ErrCodeValidationDayCount},
		{"days not a number", "/v1/cities/Chennai/forecast?days=two", types.ErrCodeValidationDayCount},
		{"bad date", "/v1/cities/Chennai/forecast?start=18-10-2025", types.ErrCodeValidationInvalidDate},
		{"past date", "/v1/cities/Chennai/forecast?start=2025-10-17", types.ErrCodeValidationInvalidDate},
		{"dot city", "/v1/cities/../forecast", types.ErrCodeValidationInvalidCity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(t, newFakeRepo()), http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(tt.wantCode), errorCode(t, rec))
		})
	}
}

func TestGetForecast_MaxDaysAllowed(t *testing.T) {
	rec := do(t, newTestRouter(t, newFakeRepo()), http.MethodGet, "/v1/cities/Chennai/forecast?days=31", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetForecast_LoadErrors(t *testing.T) {
	repo := newFakeRepo()
	repo.loadErrs["Mumbai"] = types.NewAppError(types.ErrCodeInternalArtifactCorrupt, "artifact for Mumbai is corrupt", errBoom)
	h := newTestRouter(t, repo)

	rec := do(t, h, http.MethodGet, "/v1/cities/Atlantis/forecast", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundCityModel), errorCode(t, rec))

	rec = do(t, h, http.MethodGet, "/v1/cities/Mumbai/forecast", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(types.ErrCodeInternalArtifactCorrupt), errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestGetForecast_DefaultedDaysAreWarnings(t *testing.T) {
	repo := newFakeRepo()
	repo.pairs["Chennai"].Model = constModel{err: errBoom}

	rec := do(t, newTestRouter(t, repo), http.MethodGet, "/v1/cities/Chennai/forecast?days=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope[ForecastResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Meta)
	require.Len(t, body.Meta.Warnings, 2)
	assert.Equal(t, "prediction failed for 2025-10-18: model: boom", body.Meta.Warnings[0])
	assert.Equal(t, types.OutcomeDefaulted, body.Data.Days[0].Outcome)
	assert.Equal(t, 20.0, body.Data.Days[0].Temperature)
	assert.Equal(t, 2, body.Data.Summary.DefaultedDays)
}

func TestExportCSV(t *testing.T) {
	rec := do(t, newTestRouter(t, newFakeRepo()), http.MethodGet, "/v1/cities/Chennai/forecast.csv?start=2025-10-20", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Chennai_forecast_2025-10-20.csv"`, rec.Header().Get("Content-Disposition"))

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 15)
	assert.True(t, strings.HasPrefix(lines[0], "temperature_2m,"))
	assert.Equal(t, "25,60,15,27,0,0,12,20,2025-10-20,Monday,Oct 20", lines[1])
}

func TestExportXLSX(t *testing.T) {
	rec := do(t, newTestRouter(t, newFakeRepo()), http.MethodGet, "/v1/cities/Chennai/forecast.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Chennai_forecast_2025-10-18.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

func TestExport_NotFound(t *testing.T) {
	rec := do(t, newTestRouter(t, newFakeRepo()), http.MethodGet, "/v1/cities/Atlantis/forecast.csv", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestExport_ReservedCharactersInCity(t *testing.T) {
	const city = "Washington,DC"
	repo := newFakeRepo()
	repo.cities = append(repo.cities, city)
	repo.pairs[city] = sunnyPair(city)
	h := newTestRouter(t, repo)

	page := do(t, h, http.MethodGet, "/?city="+url.QueryEscape(city), "")
	require.Equal(t, http.StatusOK, page.Code)
	m := regexp.MustCompile(`href="([^"]*forecast\.csv[^"]*)"`).FindStringSubmatch(page.Body.String())
	require.Len(t, m, 2, "dashboard has a CSV link")
	link := html.UnescapeString(m[1])
	assert.Contains(t, link, "/v1/cities/Washington%2CDC/")

	rec := do(t, h, http.MethodGet, link, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="Washington,DC_forecast_2025-10-18.csv"`, rec.Header().Get("Content-Disposition"))

	rec = do(t, h, http.MethodGet, "/v1/cities/Washington%2CDC/forecast", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body envelope[ForecastResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, city, body.Data.City)
}

func TestCityParam(t *testing.T) {
	withCity := func(raw string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("city", raw)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	city, err := cityParam(withCity("S%C3%A3o%20Paulo"))
	require.NoError(t, err)
	assert.Equal(t, "São Paulo", city)

	_, err = cityParam(withCity("bad%zz"))
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidCity))
}

func TestRefresh(t *testing.T) {
	repo := newFakeRepo()
	repo.preloadN = 2
	h := newTestRouter(t, repo)

	rec := do(t, h, http.MethodPost, "/v1/cache/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body envelope[RefreshResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, RefreshResponse{Invalidated: true}, body.Data)
	assert.Equal(t, 1, repo.invalidated)
	assert.Zero(t, repo.preloaded)

	rec = do(t, h, http.MethodPost, "/v1/cache/refresh", `{"preload":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, RefreshResponse{Invalidated: true, Preloaded: 2}, body.Data)
	assert.Equal(t, 2, repo.invalidated)
}

func TestRefresh_BadBody(t *testing.T) {
	repo := newFakeRepo()
	rec := do(t, newTestRouter(t, repo), http.MethodPost, "/v1/cache/refresh", `{"everything":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidJSON), errorCode(t, rec))
	assert.Zero(t, repo.invalidated)
}

func TestRefresh_PreloadError(t *testing.T) {
	repo := newFakeRepo()
	repo.preloadErr = types.NewAppError(types.ErrCodeUpstreamArtifactStore, "artifact store circuit open", nil)
	rec := do(t, newTestRouter(t, repo), http.MethodPost, "/v1/cache/refresh", `{"preload":true}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
