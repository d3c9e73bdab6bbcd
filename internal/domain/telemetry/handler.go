package telemetry

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medhealth/telemetry/internal/domain/device"
	"github.com/medhealth/telemetry/internal/platform/metrics"
	"github.com/medhealth/telemetry/internal/platform/stream"
	"github.com/medhealth/telemetry/pkg/pagination"
)

// heartbeatInterval paces SSE keep-alive frames so proxies do not reap
// idle stream connections.
const heartbeatInterval = 30 * time.Second

type Handler struct {
	svc     *Service
	stream  *stream.Broadcaster
	metrics *metrics.Metrics
}

func NewHandler(svc *Service, broadcaster *stream.Broadcaster, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, stream: broadcaster, metrics: m}
}

// RegisterRoutes mounts the vitals endpoints. The api group carries bearer
// auth; the dev group carries none because devices authenticate per request
// with an HMAC signature.
func (h *Handler) RegisterRoutes(api, dev *echo.Group) {
	dev.POST("/vitals", h.IngestDeviceVitals)
	api.GET("/vitals/latest", h.GetLatestVitals)
	api.GET("/vitals/recent", h.GetRecentVitals)
	api.GET("/stream/vitals", h.StreamVitals)
	api.GET("/fhir/export", h.ExportBundle)
}

// IngestDeviceVitals accepts one signed reading from a device. The body is
// consumed raw before any parsing because the HMAC covers the exact bytes
// received.
func (h *Handler) IngestDeviceVitals(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	header := c.Request().Header
	reading, err := h.svc.Ingest(c.Request().Context(),
		header.Get("X-Device-Id"),
		header.Get("X-Timestamp"),
		header.Get("X-Signature"),
		body)
	if err != nil {
		return h.ingestError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "accepted",
		"reading_id": reading.ID,
	})
}

func (h *Handler) ingestError(c echo.Context, err error) error {
	deviceID := c.Request().Header.Get("X-Device-Id")
	fail := func(errType string) {
		h.metrics.DeviceErrorsTotal.WithLabelValues(deviceID, errType).Inc()
	}

	var missing *device.MissingHeaderError
	switch {
	case errors.As(err, &missing):
		fail("missing_credential")
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing "+missing.Header)
	case errors.Is(err, device.ErrReplayRejected):
		fail("timestamp_out_of_range")
		return echo.NewHTTPError(http.StatusUnauthorized, "Timestamp out of range")
	case errors.Is(err, device.ErrBadSignature):
		fail("invalid_signature")
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, device.ErrUnknownDevice):
		fail("unknown_device")
		return echo.NewHTTPError(http.StatusUnauthorized, "Unknown device")
	case errors.Is(err, ErrInvalidPayload):
		fail("invalid_payload")
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		fail("storage")
		return echo.NewHTTPError(http.StatusInternalServerError, "Database error: "+err.Error())
	}
}

// GetLatestVitals returns the current snapshot. Always 200; an empty system
// serves zeroes rather than an error.
func (h *Handler) GetLatestVitals(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Latest(c.Request().Context()))
}

// GetRecentVitals returns the newest cached snapshots, newest first.
func (h *Handler) GetRecentVitals(c echo.Context) error {
	limit := pagination.Limit(c, pagination.RecentDefault, pagination.RecentMax)
	return c.JSON(http.StatusOK, h.svc.Recent(c.Request().Context(), limit))
}

// ExportBundle serves the newest readings as one FHIR collection bundle.
func (h *Handler) ExportBundle(c echo.Context) error {
	limit := pagination.Limit(c, pagination.ExportDefault, pagination.ExportMax)
	bundle, err := h.svc.Export(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch readings: "+err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/fhir+json")
	return c.JSON(http.StatusOK, bundle)
}

// StreamVitals serves the live event stream over SSE. Each connection gets
// an immediate heartbeat, then vitals and alert events as they are
// published, with heartbeats in between. The loop ends when the client
// disconnects or the subscriber is evicted for lagging.
func (h *Handler) StreamVitals(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	h.metrics.SSEConnectionsActive.Inc()
	defer h.metrics.SSEConnectionsActive.Dec()

	sub := h.stream.Subscribe()
	defer h.stream.Unsubscribe(sub)

	if err := h.writeEvent(res, heartbeatEvent()); err != nil {
		return nil
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.writeEvent(res, heartbeatEvent()); err != nil {
				return nil
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := h.writeEvent(res, ev); err != nil {
				return nil
			}
		}
	}
}

func (h *Handler) writeEvent(res *echo.Response, ev stream.Event) error {
	if err := stream.WriteFrame(res, ev); err != nil {
		return err
	}
	res.Flush()
	h.metrics.SSEEventsSent.WithLabelValues(ev.Type).Inc()
	return nil
}

func heartbeatEvent() stream.Event {
	data, _ := json.Marshal(map[string]int64{"timestamp": time.Now().Unix()})
	return stream.Event{Type: stream.EventHeartbeat, Data: data}
}
