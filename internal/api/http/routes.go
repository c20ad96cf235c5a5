package httpapi

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-publisher/internal/store"
)

var validate = validator.New()

// RegisterRoutes wires the status handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, history *store.MemoryStore, gatherer prometheus.Gatherer) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := app.Group("/api/v1")

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		summary, err := history.Latest()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no run has completed yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load run history")
		}

		return c.JSON(summary)
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req listQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		runs := history.List(req.Limit)
		return c.JSON(fiber.Map{
			"count": len(runs),
			"runs":  runs,
		})
	})
}

// listQuery holds query parameters for the run history endpoint.
type listQuery struct {
	Limit int `validate:"min=1,max=500"`
}

func (q *listQuery) bind(c *fiber.Ctx) error {
	raw := c.Query("limit", "20")
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return errors.New("limit must be an integer")
	}
	q.Limit = limit
	return nil
}
