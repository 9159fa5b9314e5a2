package bridgeserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unklstewy/seestar-bridge/internal/engines/seestar"
	"github.com/unklstewy/seestar-bridge/internal/models"
	"github.com/unklstewy/seestar-bridge/internal/resolver"
	"github.com/unklstewy/seestar-bridge/pkg/healthcheck"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubTelescope records calls and returns canned results.
type stubTelescope struct {
	connected bool
	calls     []string
	gotoErr   error
	lastGoto  seestar.GotoRequest
	solarName string
}

func (s *stubTelescope) Connect(ctx context.Context) (*models.TelescopeInfo, error) {
	s.calls = append(s.calls, "connect")
	s.connected = true
	return &models.TelescopeInfo{DeviceName: "Seestar S50", MountType: "Alt-Az"}, nil
}

func (s *stubTelescope) Disconnect() {
	s.calls = append(s.calls, "disconnect")
	s.connected = false
}

func (s *stubTelescope) IsConnected() bool { return s.connected }

func (s *stubTelescope) GotoCoordinates(ctx context.Context, req seestar.GotoRequest) error {
	s.calls = append(s.calls, "goto")
	s.lastGoto = req
	return s.gotoErr
}

func (s *stubTelescope) StartSolarObservation(ctx context.Context, targetName string) error {
	s.calls = append(s.calls, "solar")
	s.solarName = targetName
	return nil
}

func (s *stubTelescope) Park(ctx context.Context) error {
	s.calls = append(s.calls, "park")
	return nil
}

func (s *stubTelescope) Unpark(ctx context.Context) error {
	s.calls = append(s.calls, "unpark")
	return nil
}

func (s *stubTelescope) StartImaging(ctx context.Context, params models.ImagingParams) error {
	s.calls = append(s.calls, "imaging_start")
	return nil
}

func (s *stubTelescope) StopImaging(ctx context.Context) error {
	s.calls = append(s.calls, "imaging_stop")
	return nil
}

func (s *stubTelescope) EmergencyStop(ctx context.Context) error {
	s.calls = append(s.calls, "emergency_stop")
	return nil
}

func (s *stubTelescope) StartCalibration(ctx context.Context) error {
	return seestar.ErrCalibrationUnsupported
}

func (s *stubTelescope) CalibrationStatus() map[string]interface{} {
	return map[string]interface{}{"supported": false, "state": "not_started"}
}

func (s *stubTelescope) State() models.TelescopeState {
	return models.TelescopeState{
		Status:        models.StatusTracking,
		Connected:     s.connected,
		IsTracking:    true,
		CurrentTarget: "M31",
		LastUpdated:   time.Now(),
	}
}

type stubResolver struct {
	result models.TargetSearchResult
	err    error
}

func (s *stubResolver) Resolve(ctx context.Context, name string) (models.TargetSearchResult, error) {
	return s.result, s.err
}

func newTestServer(t *testing.T, cfg *Config, tel *stubTelescope, res *stubResolver) *Server {
	t.Helper()

	if cfg == nil {
		cfg = &Config{}
	}
	// A typed-nil stub would masquerade as a non-nil interface; keep the
	// interface itself nil when no resolver is wanted.
	var targetRes resolver.TargetResolver
	if res != nil {
		targetRes = res
	}
	srv, err := NewServer(cfg, tel, targetRes, nil, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.Response {
	t.Helper()

	var resp models.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestConnectEndpoint(t *testing.T) {
	tel := &stubTelescope{}
	srv := newTestServer(t, nil, tel, nil)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/connect", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Seestar S50", resp.Data["device_name"])
	assert.Contains(t, tel.calls, "connect")
}

func TestStatusEndpoint(t *testing.T) {
	tel := &stubTelescope{connected: true}
	srv := newTestServer(t, nil, tel, nil)

	rec := doRequest(srv, http.MethodGet, "/api/v1/status", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "tracking", resp.Data["status"])
	assert.Equal(t, true, resp.Data["connected"])
	assert.Equal(t, "M31", resp.Data["current_target"])
}

func TestGotoWithExplicitCoordinates(t *testing.T) {
	tel := &stubTelescope{connected: true}
	srv := newTestServer(t, nil, tel, nil)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/goto", map[string]interface{}{
		"target": "NGC 7000",
		"ra":     20.98,
		"dec":    44.33,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "NGC 7000", tel.lastGoto.TargetName)
	assert.InDelta(t, 20.98, tel.lastGoto.Coordinates.RA, 1e-9)
	assert.InDelta(t, 44.33, tel.lastGoto.Coordinates.Dec, 1e-9)
}

func TestGotoResolvesTargetName(t *testing.T) {
	tel := &stubTelescope{connected: true}
	res := &stubResolver{result: models.TargetSearchResult{
		Found: true,
		Target: &models.Target{
			Name:        "M31",
			Coordinates: models.Coordinates{RA: 0.712, Dec: 41.269, Epoch: "J2000"},
		},
	}}
	srv := newTestServer(t, nil, tel, res)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/goto", map[string]interface{}{
		"target": "Andromeda",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "M31", tel.lastGoto.TargetName)
	assert.InDelta(t, 0.712, tel.lastGoto.Coordinates.RA, 1e-9)
}

func TestGotoTargetNotFound(t *testing.T) {
	tel := &stubTelescope{connected: true}
	res := &stubResolver{result: models.TargetSearchResult{
		Found:        false,
		Alternatives: []string{"Messier 31", "NGC 224"},
	}}
	srv := newTestServer(t, nil, tel, res)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/goto", map[string]interface{}{
		"target": "Andromedda",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Len(t, resp.Data["alternatives"], 2)
	assert.NotContains(t, tel.calls, "goto")
}

func TestGotoMissingFields(t *testing.T) {
	tel := &stubTelescope{connected: true}
	srv := newTestServer(t, nil, tel, nil)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/goto", map[string]interface{}{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, tel.calls)
}

func TestGotoNotConnectedReturnsConflict(t *testing.T) {
	tel := &stubTelescope{gotoErr: seestar.ErrNotConnected}
	srv := newTestServer(t, nil, tel, nil)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/goto", map[string]interface{}{
		"ra":  10.0,
		"dec": 20.0,
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGotoBelowHorizonReturnsUnprocessable(t *testing.T) {
	tel := &stubTelescope{
		connected: true,
		gotoErr:   &seestar.BelowHorizonError{Target: "M83", Altitude: -12.5},
	}
	srv := newTestServer(t, nil, tel, nil)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/goto", map[string]interface{}{
		"ra":  13.62,
		"dec": -29.87,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Contains(t, resp.Error, "below the horizon")
}

func TestCalibrateReportsUnsupported(t *testing.T) {
	tel := &stubTelescope{connected: true}
	srv := newTestServer(t, nil, tel, nil)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/calibrate", nil)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Contains(t, resp.Error, "mobile app")
	assert.Equal(t, false, resp.Data["supported"])
}

func TestSimpleCommandEndpoints(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/api/v1/telescope/park", "park"},
		{"/api/v1/telescope/unpark", "unpark"},
		{"/api/v1/telescope/imaging/stop", "imaging_stop"},
		{"/api/v1/telescope/emergency-stop", "emergency_stop"},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			tel := &stubTelescope{connected: true}
			srv := newTestServer(t, nil, tel, nil)

			rec := doRequest(srv, http.MethodPost, tt.path, nil)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, tel.calls, tt.call)
		})
	}
}

func TestSolarEndpoint(t *testing.T) {
	tel := &stubTelescope{connected: true}
	srv := newTestServer(t, nil, tel, nil)

	rec := doRequest(srv, http.MethodPost, "/api/v1/telescope/solar", map[string]interface{}{
		"target": "Sun",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Contains(t, resp.Message, "solar filter")
	assert.Equal(t, "Sun", tel.solarName)
}

func TestResolveEndpoint(t *testing.T) {
	res := &stubResolver{result: models.TargetSearchResult{
		Found: true,
		Target: &models.Target{
			Name:        "M42",
			Coordinates: models.Coordinates{RA: 5.588, Dec: -5.39, Epoch: "J2000"},
		},
	}}
	srv := newTestServer(t, nil, &stubTelescope{}, res)

	rec := doRequest(srv, http.MethodGet, "/api/v1/targets/resolve?name=Orion+Nebula", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "M42")
}

func TestResolveRequiresName(t *testing.T) {
	srv := newTestServer(t, nil, &stubTelescope{}, &stubResolver{})

	rec := doRequest(srv, http.MethodGet, "/api/v1/targets/resolve", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpointWithoutEngine(t *testing.T) {
	srv := newTestServer(t, nil, &stubTelescope{}, nil)

	rec := doRequest(srv, http.MethodGet, "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown")
}

func TestHealthEndpointAggregates(t *testing.T) {
	engine := healthcheck.NewEngine(zap.NewNop(), time.Second)
	engine.Register(healthcheck.CheckFunc("telescope", func(ctx context.Context) *healthcheck.Result {
		return &healthcheck.Result{
			ComponentName: "telescope",
			Status:        healthcheck.StatusHealthy,
			Timestamp:     time.Now(),
		}
	}))

	srv, err := NewServer(&Config{}, &stubTelescope{}, nil, engine, zap.NewNop())
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var result healthcheck.AggregatedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, healthcheck.StatusHealthy, result.OverallStatus)
	assert.Contains(t, result.Components, "telescope")
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	engine := healthcheck.NewEngine(zap.NewNop(), time.Second)
	engine.Register(healthcheck.CheckFunc("telescope", func(ctx context.Context) *healthcheck.Result {
		return &healthcheck.Result{
			ComponentName: "telescope",
			Status:        healthcheck.StatusUnhealthy,
			Timestamp:     time.Now(),
		}
	}))

	srv, err := NewServer(&Config{}, &stubTelescope{}, nil, engine, zap.NewNop())
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/api/v1/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Enabled: true, JWTSecret: "test-secret"}}
	srv := newTestServer(t, cfg, &stubTelescope{}, nil)

	rec := doRequest(srv, http.MethodGet, "/api/v1/status", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Enabled: true, JWTSecret: "test-secret"}}
	srv := newTestServer(t, cfg, &stubTelescope{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	secret := "test-secret"
	cfg := &Config{Auth: AuthConfig{Enabled: true, JWTSecret: secret}}
	srv := newTestServer(t, cfg, &stubTelescope{connected: true}, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "bridge-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthSkipsHealthEndpoint(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Enabled: true, JWTSecret: "test-secret"}}
	srv := newTestServer(t, cfg, &stubTelescope{}, nil)

	rec := doRequest(srv, http.MethodGet, "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := &Config{CORS: CORSConfig{Enabled: true}}
	srv := newTestServer(t, cfg, &stubTelescope{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestNewServerRequiresTelescope(t *testing.T) {
	_, err := NewServer(&Config{}, nil, nil, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestNewServerRejectsAuthWithoutSecret(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Enabled: true}}
	_, err := NewServer(cfg, &stubTelescope{}, nil, nil, zap.NewNop())
	assert.Error(t, err)
}
