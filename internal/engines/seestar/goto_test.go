package seestar

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unklstewy/seestar-bridge/internal/astro"
	"github.com/unklstewy/seestar-bridge/internal/models"
	"go.uber.org/zap"
)

// stubObserver gives the visibility gate a fixed altitude.
type stubObserver struct {
	altitude float64
}

func (s stubObserver) Configured() bool       { return true }
func (s stubObserver) LocalNow() time.Time    { return time.Now() }
func (s stubObserver) ToObservingFrame(models.Coordinates, time.Time) (float64, float64, error) {
	return s.altitude, 180, nil
}

func gateAt(altitude float64) *astro.Gate {
	return astro.NewGate(stubObserver{altitude: altitude}, zap.NewNop())
}

// autoComplete wires the hub so a goto command is answered with a working
// then a terminal AutoGoto event.
func autoComplete(hub *deviceHub, terminal, errMsg string) {
	hub.onCommand = func(d *fakeDevice, cmd deviceCommand) {
		if cmd.Method == "iscope_start_view" {
			go func() {
				d.sendEvent("working", "")
				d.sendEvent(terminal, errMsg)
			}()
		}
	}
}

func connectedClientWithGate(t *testing.T, cfg Config, hub *deviceHub, gate *astro.Gate) *Client {
	t.Helper()
	c := NewClient(cfg, gate, zap.NewNop(), WithDialer(hub.dial))
	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

type sentViewParams struct {
	Mode        string    `json:"mode"`
	TargetRADec []float64 `json:"target_ra_dec"`
	TargetName  string    `json:"target_name"`
	LPFilter    bool      `json:"lp_filter"`
	AutoCenter  bool      `json:"auto_center"`
	Mosaic      *struct {
		Enable bool `json:"enable"`
		Width  int  `json:"width"`
		Height int  `json:"height"`
	} `json:"mosaic"`
}

func TestGotoBelowHorizonSendsNothing(t *testing.T) {
	hub := newDeviceHub()
	c := connectedClientWithGate(t, fastConfig(), hub, gateAt(-5))

	// Wait for both connect probes to be recorded so the baseline is stable.
	require.Eventually(t, func() bool {
		return hub.device(0).countMethod("test_connection") == 1 &&
			hub.device(0).countMethod("scope_get_equ_coord") == 1
	}, time.Second, 5*time.Millisecond)
	sentBefore := len(hub.device(0).methods())

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "M31",
	})

	var bhe *BelowHorizonError
	require.ErrorAs(t, err, &bhe)
	assert.Equal(t, "M31", bhe.Target)
	assert.InDelta(t, -5.0, bhe.Altitude, 1e-9)

	// The refusal happens before any wire traffic.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, hub.device(0).countMethod("iscope_start_view"))
	assert.Equal(t, sentBefore, len(hub.device(0).methods()))
}

func TestGotoSkipVisibilityCheck(t *testing.T) {
	hub := newDeviceHub()
	autoComplete(hub, "complete", "")
	c := connectedClientWithGate(t, fastConfig(), hub, gateAt(-5))

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates:         models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:          "M31",
		SkipVisibilityCheck: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.device(0).countMethod("iscope_start_view"))
}

func TestGotoSendsDeviceCoordinatePayload(t *testing.T) {
	hub := newDeviceHub()
	autoComplete(hub, "complete", "")
	c := connectedClientWithGate(t, fastConfig(), hub, gateAt(45))

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5.1234567, Dec: -12.3456789, Epoch: "J2000"},
		TargetName:  "Test Target",
	})
	require.NoError(t, err)

	raw := hub.device(0).paramsOf("iscope_start_view")
	require.NotNil(t, raw)
	var p sentViewParams
	require.NoError(t, json.Unmarshal(raw, &p))

	assert.Equal(t, "star", p.Mode)
	require.Len(t, p.TargetRADec, 2)
	// RA goes out in degrees, both axes rounded to six decimals.
	assert.InDelta(t, 76.851851, p.TargetRADec[0], 1e-6)
	assert.InDelta(t, -12.345679, p.TargetRADec[1], 1e-6)
	assert.Equal(t, "Test Target", p.TargetName)
	assert.False(t, p.LPFilter)
	assert.True(t, p.AutoCenter)
	assert.Nil(t, p.Mosaic)

	state := c.State()
	assert.Equal(t, models.StatusTracking, state.Status)
	assert.Equal(t, "Test Target", state.CurrentTarget)
	assert.True(t, state.IsTracking)
}

func TestGotoInvalidCoordinates(t *testing.T) {
	hub := newDeviceHub()
	c := connectedClient(t, fastConfig(), hub)

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 25, Dec: 40},
	})
	require.Error(t, err)
	assert.Equal(t, 0, hub.device(0).countMethod("iscope_start_view"))
}

func TestGotoMosaicClampedAndNamed(t *testing.T) {
	hub := newDeviceHub()
	autoComplete(hub, "complete", "")
	c := connectedClientWithGate(t, fastConfig(), hub, gateAt(45))

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "NGC 7000",
		Mosaic:      &models.MosaicParams{Width: 5, Height: 0},
	})
	require.NoError(t, err)

	var p sentViewParams
	require.NoError(t, json.Unmarshal(hub.device(0).paramsOf("iscope_start_view"), &p))

	require.NotNil(t, p.Mosaic)
	assert.True(t, p.Mosaic.Enable)
	assert.Equal(t, 2, p.Mosaic.Width)
	assert.Equal(t, 1, p.Mosaic.Height)
	assert.Equal(t, "NGC 7000 (Mosaic 2x1)", p.TargetName)
}

func TestGotoDeviceReportsBelowHorizon(t *testing.T) {
	hub := newDeviceHub()
	autoComplete(hub, "fail", "Target is below horizon")
	c := connectedClientWithGate(t, fastConfig(), hub, gateAt(45))

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "M31",
	})

	var dge *DeviceGotoError
	require.ErrorAs(t, err, &dge)
	assert.Equal(t, ReasonBelowHorizon, dge.Reason)
	assert.Contains(t, err.Error(), "below the horizon")
}

func TestGotoMountFailureSolarInterlockSuspected(t *testing.T) {
	hub := newDeviceHub()
	autoComplete(hub, "fail", "mount goto failed")
	c := connectedClient(t, fastConfig(), hub)

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates:         models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:          "Mercury",
		SkipVisibilityCheck: true,
	})

	var dge *DeviceGotoError
	require.ErrorAs(t, err, &dge)
	assert.Equal(t, ReasonMechanical, dge.Reason)
	assert.True(t, dge.SolarInterlockSuspected)
	assert.Contains(t, err.Error(), "solar")
}

func TestGotoSunTargetRoutesToSolarFlow(t *testing.T) {
	hub := newDeviceHub()
	c := connectedClientWithGate(t, fastConfig(), hub, gateAt(-5))

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "Sun ⚠️ SOLAR OBSERVATION",
	})
	require.NoError(t, err)

	// The solar workflow runs instead of the star-mode goto, bypassing the
	// visibility gate entirely.
	require.Eventually(t, func() bool {
		return hub.device(0).countMethod("start_scan_planet") == 1
	}, time.Second, 5*time.Millisecond)

	var mode struct {
		Mode string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(hub.device(0).paramsOf("iscope_start_view"), &mode))
	assert.Equal(t, "sun", mode.Mode)
}

// flakyConn allows a fixed number of writes, then fails the rest.
type flakyConn struct {
	net.Conn
	mu        sync.Mutex
	remaining int
}

func (f *flakyConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining == 0 {
		return 0, errors.New("broken pipe")
	}
	f.remaining--
	return f.Conn.Write(p)
}

func TestGotoSendFailureResetsOperationState(t *testing.T) {
	hub := newDeviceHub()
	dial := func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
		conn, err := hub.dial(ctx, network, addr, timeout)
		if err != nil {
			return nil, err
		}
		// Room for the two connect probes; the goto write fails.
		return &flakyConn{Conn: conn, remaining: 2}, nil
	}
	c := NewClient(fastConfig(), nil, zap.NewNop(), WithDialer(dial))
	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)

	err = c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "M31",
	})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	// A failed send leaves no phantom in-flight operation behind.
	assert.Equal(t, OpIdle, c.OperationState())
}

func TestGotoMountFailureNonSolar(t *testing.T) {
	hub := newDeviceHub()
	autoComplete(hub, "fail", "mount goto failed")
	c := connectedClient(t, fastConfig(), hub)

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "M31",
	})

	var dge *DeviceGotoError
	require.ErrorAs(t, err, &dge)
	assert.Equal(t, ReasonMechanical, dge.Reason)
	assert.False(t, dge.SolarInterlockSuspected)
}

func TestGotoUnknownFailure(t *testing.T) {
	hub := newDeviceHub()
	autoComplete(hub, "fail", "something odd happened")
	c := connectedClient(t, fastConfig(), hub)

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "M31",
	})

	var dge *DeviceGotoError
	require.ErrorAs(t, err, &dge)
	assert.Equal(t, ReasonUnknown, dge.Reason)
	assert.Contains(t, err.Error(), "something odd happened")
}

func TestGotoTimeoutIsSoftSuccess(t *testing.T) {
	cfg := fastConfig()
	cfg.GotoTimeout = 100 * time.Millisecond

	hub := newDeviceHub()
	hub.onCommand = func(d *fakeDevice, cmd deviceCommand) {
		if cmd.Method == "iscope_start_view" {
			go d.sendEvent("working", "")
		}
	}
	c := connectedClient(t, cfg, hub)

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "M31",
	})

	// The device going quiet mid-slew is treated as a landed slew; the
	// plate solve corrects any real miss.
	require.NoError(t, err)
	assert.Equal(t, models.StatusTracking, c.State().Status)
}

func TestGotoProbesCoordinatesWhileSlewing(t *testing.T) {
	cfg := fastConfig()
	cfg.GotoTimeout = 200 * time.Millisecond
	cfg.CoordProbeInterval = 30 * time.Millisecond

	hub := newDeviceHub()
	hub.onCommand = func(d *fakeDevice, cmd deviceCommand) {
		if cmd.Method == "iscope_start_view" {
			go d.sendEvent("working", "")
		}
	}
	c := connectedClient(t, cfg, hub)

	err := c.GotoCoordinates(context.Background(), GotoRequest{
		Coordinates: models.Coordinates{RA: 5, Dec: 40, Epoch: "J2000"},
		TargetName:  "M31",
	})
	require.NoError(t, err)

	// One query comes from Connect; slewing adds more.
	assert.GreaterOrEqual(t, hub.device(0).countMethod("scope_get_equ_coord"), 3)
}

func TestSolarObservationSequence(t *testing.T) {
	hub := newDeviceHub()
	c := connectedClient(t, fastConfig(), hub)

	require.NoError(t, c.StartSolarObservation(context.Background(), "Sun"))

	require.Eventually(t, func() bool {
		return hub.device(0).countMethod("clear_app_state") == 1
	}, time.Second, 5*time.Millisecond)

	methods := hub.device(0).methods()
	idxView, idxScan, idxClear := -1, -1, -1
	for i, m := range methods {
		switch m {
		case "iscope_start_view":
			idxView = i
		case "start_scan_planet":
			idxScan = i
		case "clear_app_state":
			idxClear = i
		}
	}
	require.GreaterOrEqual(t, idxView, 0)
	assert.Less(t, idxView, idxScan)
	assert.Less(t, idxScan, idxClear)

	var mode struct {
		Mode string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(hub.device(0).paramsOf("iscope_start_view"), &mode))
	assert.Equal(t, "sun", mode.Mode)

	var clear struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(hub.device(0).paramsOf("clear_app_state"), &clear))
	assert.Equal(t, "ScanSun", clear.Name)

	assert.Equal(t, models.StatusTracking, c.State().Status)
}

func TestIsSolarTarget(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Sun", true},
		{"solar disc", true},
		{"Jupiter", true},
		{"mars", true},
		{"M31", false},
		{"Andromeda", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSolarTarget(tt.name), tt.name)
	}
}

func TestParkAndUnpark(t *testing.T) {
	hub := newDeviceHub()
	c := connectedClient(t, fastConfig(), hub)
	ctx := context.Background()

	require.NoError(t, c.Park(ctx))
	require.Eventually(t, func() bool {
		return hub.device(0).countMethod("scope_park") == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.State().IsParked)

	var park struct {
		EquMode bool `json:"equ_mode"`
	}
	require.NoError(t, json.Unmarshal(hub.device(0).paramsOf("scope_park"), &park))
	assert.False(t, park.EquMode)

	require.NoError(t, c.Unpark(ctx))
	require.Eventually(t, func() bool {
		return hub.device(0).countMethod("scope_move_to_horizon") == 1 &&
			hub.device(0).countMethod("get_device_state") == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, c.State().IsParked)
	assert.Equal(t, models.StatusIdle, c.State().Status)
}

func TestImagingStartAndStop(t *testing.T) {
	hub := newDeviceHub()
	c := connectedClient(t, fastConfig(), hub)
	ctx := context.Background()

	require.NoError(t, c.StartImaging(ctx, models.ImagingParams{
		ExposureTime: 10,
		Count:        30,
		Mosaic:       &models.MosaicParams{Width: 3, Height: 2},
	}))
	require.Eventually(t, func() bool {
		return hub.device(0).countMethod("iscope_start_stack") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusImaging, c.State().Status)

	var stack struct {
		Restart bool `json:"restart"`
		Mosaic  *struct {
			Enable bool `json:"enable"`
			Width  int  `json:"width"`
			Height int  `json:"height"`
		} `json:"mosaic"`
	}
	require.NoError(t, json.Unmarshal(hub.device(0).paramsOf("iscope_start_stack"), &stack))
	assert.True(t, stack.Restart)
	require.NotNil(t, stack.Mosaic)
	assert.Equal(t, 2, stack.Mosaic.Width)
	assert.Equal(t, 2, stack.Mosaic.Height)

	require.NoError(t, c.StopImaging(ctx))
	require.Eventually(t, func() bool {
		return hub.device(0).countMethod("iscope_stop_view") == 1
	}, time.Second, 5*time.Millisecond)

	var stop struct {
		Stage string `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(hub.device(0).paramsOf("iscope_stop_view"), &stop))
	assert.Equal(t, "Stack", stop.Stage)
}

func TestEmergencyStop(t *testing.T) {
	hub := newDeviceHub()
	c := connectedClient(t, fastConfig(), hub)

	require.NoError(t, c.EmergencyStop(context.Background()))
	require.Eventually(t, func() bool {
		return hub.device(0).countMethod("iscope_stop_view") == 1
	}, time.Second, 5*time.Millisecond)

	var stop struct {
		Stage string `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(hub.device(0).paramsOf("iscope_stop_view"), &stop))
	assert.Equal(t, "All", stop.Stage)
	assert.Equal(t, OpIdle, c.OperationState())
	assert.Equal(t, models.StatusIdle, c.State().Status)
}

func TestWheelPositionValidation(t *testing.T) {
	hub := newDeviceHub()
	c := connectedClient(t, fastConfig(), hub)
	ctx := context.Background()

	require.NoError(t, c.SetWheelPosition(ctx, 2))
	assert.Error(t, c.SetWheelPosition(ctx, 3))
	assert.Error(t, c.SetWheelPosition(ctx, -1))

	assert.Error(t, c.MoveFocuser(ctx, -5))
	require.NoError(t, c.MoveFocuser(ctx, 1500))
}
