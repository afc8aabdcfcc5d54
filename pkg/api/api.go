// Package api exposes a scale connection via a small REST API
package api

import (
	"context"
	"time"

	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/gofiber/fiber/v2"
)

// Controller denotes the scale connection served by the API
type Controller interface {
	Status() scale.ConnectionStatus
	LastReading() (scale.DataPoint, bool)
	ConnectedFor() time.Duration
	RequestConnect(ctx context.Context) error
	Disconnect() error
}

// API denotes a REST API for a scale
type API struct {
	ctrl   Controller
	router *fiber.App
	logger scale.Logger
}

// Status denotes the connection status as returned by the API
type Status struct {
	State        string  `json:"state"`
	Error        string  `json:"error,omitempty"`
	ConnectedFor float64 `json:"connected_for_s"`
}

// Reading denotes a weight reading as returned by the API
type Reading struct {
	TimeStamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
	Unit      string    `json:"unit"`
	Locked    bool      `json:"locked"`
}

// New instantiates a new API
func New(ctrl Controller, logger scale.Logger) *API {
	if logger == nil {
		logger = &scale.NullLogger{}
	}

	api := API{
		ctrl:   ctrl,
		logger: logger,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/reading", api.handleReading())
	api.router.Post("/connect", api.handleConnect())
	api.router.Post("/disconnect", api.handleDisconnect())

	return &api
}

// Listen serves the API on the given endpoint (blocking)
func (api *API) Listen(endpoint string) error {
	return api.router.Listen(endpoint)
}

// Shutdown stops serving the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

////////////////////////////////////////////////////////////////////////////////

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		st := api.ctrl.Status()
		res := Status{
			State:        st.State.String(),
			ConnectedFor: api.ctrl.ConnectedFor().Seconds(),
		}
		if st.Error != nil {
			res.Error = st.Error.Error()
		}
		return c.JSON(res)
	}
}

func (api *API) handleReading() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		dp, ok := api.ctrl.LastReading()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no reading received yet")
		}
		return c.JSON(Reading{
			TimeStamp: dp.TimeStamp,
			Value:     dp.Value,
			Unit:      string(dp.Unit),
			Locked:    dp.Locked,
		})
	}
}

// handleConnect only triggers the connect, its outcome is reflected by /status
func (api *API) handleConnect() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if api.ctrl.Status().State == scale.StateConnected {
			return fiber.NewError(fiber.StatusConflict, "already connected")
		}
		go func() {
			if err := api.ctrl.RequestConnect(context.Background()); err != nil && !scale.IsSilent(err) {
				api.logger.Errorf("failed to connect scale: %s", err)
			}
		}()
		return c.SendStatus(fiber.StatusAccepted)
	}
}

func (api *API) handleDisconnect() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if err := api.ctrl.Disconnect(); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
