package api

import (
	"time"

	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API denotes a REST API for a scale
type API struct {
	scale  scale.Scale
	router *fiber.App
}

// Status denotes the response of the status endpoint
type Status struct {
	State           scale.State        `json:"state"`
	HeartbeatActive bool               `json:"heartbeat_active"`
	Error           string             `json:"error,omitempty"`
	Battery         scale.BatteryLevel `json:"battery"`
	Firmware        string             `json:"firmware,omitempty"`
	Unit            scale.Unit         `json:"unit"`
	ElapsedTime     float64            `json:"elapsed_time"`
}

// Weight denotes the response of the weight endpoint
type Weight struct {
	TimeStamp time.Time          `json:"timestamp"`
	Weight    float64            `json:"weight"`
	Unit      scale.Unit         `json:"unit"`
	Elapsed   *scale.ElapsedTime `json:"elapsed,omitempty"`
}

// New instantiates a new API. If gatherer is non-nil, its metrics are exposed
// on /metrics
func New(s scale.Scale, gatherer prometheus.Gatherer) *API {

	api := API{
		scale: s,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/weight", api.handleWeight())
	api.router.Post("/tare", api.handleCommand(s.Tare))
	api.router.Post("/led/on", api.handleLEDOn())
	api.router.Post("/led/off", api.handleCommand(s.LEDOff))
	api.router.Post("/power_off", api.handleCommand(s.PowerOff))
	api.router.Post("/timer/start", api.handleCommand(s.StartTimer))
	api.router.Post("/timer/stop", api.handleCommand(s.StopTimer))
	api.router.Post("/timer/reset", api.handleCommand(s.ResetTimer))

	if gatherer != nil {
		api.router.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &api
}

// Listen serves the API on the given endpoint (blocking)
func (api *API) Listen(endpoint string) error {
	return api.router.Listen(endpoint)
}

// Shutdown gracefully stops the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

////////////////////////////////////////////////////////////////////////////////

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		status := api.scale.ConnectionStatus()

		res := Status{
			State:           status.State,
			HeartbeatActive: status.HeartbeatActive,
			Battery:         api.scale.BatteryLevel(),
			Firmware:        api.scale.FirmwareVersion(),
			Unit:            api.scale.Unit(),
			ElapsedTime:     api.scale.ElapsedTime().Seconds(),
		}
		if status.Error != nil {
			res.Error = status.Error.Error()
		}

		return c.JSON(res)
	}
}

func (api *API) handleWeight() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		data, ok := api.scale.Weight()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no weight received yet")
		}

		return c.JSON(Weight{
			TimeStamp: data.TimeStamp,
			Weight:    data.Weight,
			Unit:      data.Unit,
			Elapsed:   data.Elapsed,
		})
	}
}

func (api *API) handleLEDOn() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		unit, err := scale.ParseUnit(c.Query("unit"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		return api.handleCommand(func() error {
			return api.scale.LEDOn(unit)
		})(c)
	}
}

func (api *API) handleCommand(cmd func() error) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if !api.scale.ConnectionStatus().IsConnected() {
			return fiber.NewError(fiber.StatusConflict, "scale is not connected")
		}
		if err := cmd(); err != nil {
			return err
		}

		return c.SendStatus(fiber.StatusNoContent)
	}
}
