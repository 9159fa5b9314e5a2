package bridgeserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unklstewy/seestar-bridge/internal/coordinators"
	"github.com/unklstewy/seestar-bridge/internal/engines/seestar"
	"github.com/unklstewy/seestar-bridge/internal/models"
	"github.com/unklstewy/seestar-bridge/internal/resolver"
	"github.com/unklstewy/seestar-bridge/pkg/healthcheck"
)

// Server is the REST surface over the telescope engine. It mirrors the MQTT
// command set so either transport can drive the same session.
type Server struct {
	config     *Config
	logger     *zap.Logger
	telescope  coordinators.Telescope
	resolver   resolver.TargetResolver
	health     *healthcheck.Engine
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates the HTTP server. The resolver and health engine may be
// nil; the corresponding endpoints then report as unavailable.
func NewServer(config *Config, telescope coordinators.Telescope, res resolver.TargetResolver, health *healthcheck.Engine, logger *zap.Logger) (*Server, error) {
	if telescope == nil {
		return nil, fmt.Errorf("telescope cannot be nil")
	}
	if config == nil {
		config = &Config{}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    config,
		logger:    logger.With(zap.String("component", "bridgeserver")),
		telescope: telescope,
		resolver:  res,
		health:    health,
	}
	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         config.Server.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(ErrorHandlerMiddleware(s.logger))
	router.Use(LoggingMiddleware(s.logger))
	router.Use(CORSMiddleware(s.config.CORS))

	api := router.Group("/api/v1")
	api.GET("/health", s.handleHealth)

	protected := api.Group("")
	protected.Use(AuthMiddleware(s.config.Auth, s.logger))

	protected.GET("/status", s.handleStatus)
	protected.GET("/targets/resolve", s.handleResolve)

	tel := protected.Group("/telescope")
	tel.POST("/connect", s.handleConnect)
	tel.POST("/disconnect", s.handleDisconnect)
	tel.POST("/goto", s.handleGoto)
	tel.POST("/park", s.simpleCommand("Telescope parked", func(ctx context.Context) error {
		return s.telescope.Park(ctx)
	}))
	tel.POST("/unpark", s.simpleCommand("Telescope unparked", func(ctx context.Context) error {
		return s.telescope.Unpark(ctx)
	}))
	tel.POST("/imaging/start", s.handleImagingStart)
	tel.POST("/imaging/stop", s.simpleCommand("Imaging stopped", func(ctx context.Context) error {
		return s.telescope.StopImaging(ctx)
	}))
	tel.POST("/solar", s.handleSolar)
	tel.POST("/emergency-stop", s.simpleCommand("Emergency stop issued", func(ctx context.Context) error {
		return s.telescope.EmergencyStop(ctx)
	}))
	tel.POST("/calibrate", s.handleCalibrate)

	return router
}

// Router returns the gin engine, used by tests to drive requests directly.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.config.Server.ListenAddress))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests up to
// the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}

// statusForError maps engine errors onto HTTP status codes.
func statusForError(err error) int {
	var belowHorizon *seestar.BelowHorizonError
	var gotoErr *seestar.DeviceGotoError

	switch {
	case errors.Is(err, seestar.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, seestar.ErrCalibrationUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &belowHorizon), errors.As(err, &gotoErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(c *gin.Context, resp models.Response) {
	resp.Success = true
	resp.Timestamp = time.Now().UTC()
	c.JSON(http.StatusOK, resp)
}

func respondError(c *gin.Context, status int, err error, data map[string]interface{}) {
	c.JSON(status, models.Response{
		Success:   false,
		Error:     err.Error(),
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// simpleCommand adapts a parameterless telescope operation to a handler.
func (s *Server) simpleCommand(okMessage string, fn func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context()); err != nil {
			respondError(c, statusForError(err), err, nil)
			return
		}
		respondOK(c, models.Response{Message: okMessage})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": string(healthcheck.StatusUnknown)})
		return
	}

	result := s.health.CheckAll(c.Request.Context())
	status := http.StatusOK
	if result.OverallStatus == healthcheck.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

func (s *Server) handleStatus(c *gin.Context) {
	state := s.telescope.State()
	respondOK(c, models.Response{
		Message: "Telescope status",
		Data: map[string]interface{}{
			"status":         string(state.Status),
			"connected":      state.Connected,
			"is_tracking":    state.IsTracking,
			"is_parked":      state.IsParked,
			"current_target": state.CurrentTarget,
		},
	})
}

func (s *Server) handleConnect(c *gin.Context) {
	info, err := s.telescope.Connect(c.Request.Context())
	if err != nil {
		respondError(c, statusForError(err), err, nil)
		return
	}
	respondOK(c, models.Response{
		Message: "Connected to " + info.DeviceName,
		Data: map[string]interface{}{
			"device_name": info.DeviceName,
			"mount_type":  info.MountType,
		},
	})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.telescope.Disconnect()
	respondOK(c, models.Response{Message: "Disconnected from telescope"})
}

// gotoBody mirrors the MQTT goto command body.
type gotoBody struct {
	Target              string               `json:"target,omitempty"`
	RA                  *float64             `json:"ra,omitempty"`
	Dec                 *float64             `json:"dec,omitempty"`
	Mosaic              *models.MosaicParams `json:"mosaic,omitempty"`
	SkipVisibilityCheck bool                 `json:"skip_visibility_check,omitempty"`
}

func (s *Server) handleGoto(c *gin.Context) {
	var req gotoBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err), nil)
		return
	}

	ctx := c.Request.Context()
	name := req.Target
	var coords models.Coordinates

	switch {
	case req.RA != nil && req.Dec != nil:
		coords = models.Coordinates{RA: *req.RA, Dec: *req.Dec, Epoch: "J2000"}
	case req.Target != "":
		if s.resolver == nil {
			respondError(c, http.StatusServiceUnavailable, fmt.Errorf("no target resolver configured"), nil)
			return
		}
		result, err := s.resolver.Resolve(ctx, req.Target)
		if err != nil {
			respondError(c, http.StatusBadRequest, err, nil)
			return
		}
		if !result.Found {
			respondError(c, http.StatusNotFound,
				fmt.Errorf("target %q not found", req.Target),
				map[string]interface{}{"alternatives": result.Alternatives})
			return
		}
		coords = result.Target.Coordinates
		name = result.Target.Name
	default:
		respondError(c, http.StatusBadRequest, fmt.Errorf("either target or ra/dec required"), nil)
		return
	}

	err := s.telescope.GotoCoordinates(ctx, seestar.GotoRequest{
		Coordinates:         coords,
		TargetName:          name,
		Mosaic:              req.Mosaic,
		SkipVisibilityCheck: req.SkipVisibilityCheck,
	})
	if err != nil {
		respondError(c, statusForError(err), err, nil)
		return
	}

	respondOK(c, models.Response{
		Message: fmt.Sprintf("Slewing to %s complete", name),
		Data: map[string]interface{}{
			"target": name,
			"ra":     coords.RA,
			"dec":    coords.Dec,
		},
	})
}

func (s *Server) handleResolve(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		respondError(c, http.StatusBadRequest, fmt.Errorf("name query parameter required"), nil)
		return
	}
	if s.resolver == nil {
		respondError(c, http.StatusServiceUnavailable, fmt.Errorf("no target resolver configured"), nil)
		return
	}

	result, err := s.resolver.Resolve(c.Request.Context(), name)
	if err != nil {
		respondError(c, http.StatusBadRequest, err, nil)
		return
	}

	data := map[string]interface{}{"result": result}
	if !result.Found {
		respondError(c, http.StatusNotFound, fmt.Errorf("target %q not found", name), data)
		return
	}
	respondOK(c, models.Response{
		Message: "Resolved " + result.Target.Name,
		Data:    data,
	})
}

func (s *Server) handleImagingStart(c *gin.Context) {
	var params models.ImagingParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			respondError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err), nil)
			return
		}
	}

	if err := s.telescope.StartImaging(c.Request.Context(), params); err != nil {
		respondError(c, statusForError(err), err, nil)
		return
	}
	respondOK(c, models.Response{Message: "Imaging started"})
}

func (s *Server) handleSolar(c *gin.Context) {
	var req struct {
		Target string `json:"target"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err), nil)
			return
		}
	}

	if err := s.telescope.StartSolarObservation(c.Request.Context(), req.Target); err != nil {
		respondError(c, statusForError(err), err, nil)
		return
	}
	respondOK(c, models.Response{
		Message: "Solar observation started. Ensure a proper solar filter is installed!",
	})
}

func (s *Server) handleCalibrate(c *gin.Context) {
	if err := s.telescope.StartCalibration(c.Request.Context()); err != nil {
		respondError(c, statusForError(err), err, s.telescope.CalibrationStatus())
		return
	}
	respondOK(c, models.Response{Message: "Calibration started"})
}
