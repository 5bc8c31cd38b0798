package httpapi

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/agroclim/weather-pipeline/internal/pipeline"
	"github.com/agroclim/weather-pipeline/internal/report"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app. The reporter
// may be nil when the process runs against the in-memory store; report
// endpoints then answer 503.
func RegisterRoutes(app *fiber.App, pipe *pipeline.Pipeline, reporter *report.Reporter) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		summary := pipe.LastSummary()
		if summary == nil {
			return fiber.NewError(fiber.StatusNotFound, "no pipeline run has completed yet")
		}
		return c.JSON(summary)
	})

	v1.Get("/report/summary", func(c *fiber.Ctx) error {
		if reporter == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "reporting requires a relational store")
		}
		overview, err := reporter.Overview(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to build summary")
		}
		return c.JSON(overview)
	})

	v1.Get("/report/temperatures", func(c *fiber.Ctx) error {
		if reporter == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "reporting requires a relational store")
		}
		temps, err := reporter.TemperatureAverages(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query temperature averages")
		}
		return c.JSON(temps)
	})

	v1.Get("/report/precipitation", func(c *fiber.Ctx) error {
		var q precipitationQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if reporter == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "reporting requires a relational store")
		}

		monthly, err := reporter.MonthlyPrecipitation(c.Context(), q.Year)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query precipitation")
		}
		return c.JSON(fiber.Map{
			"year":   q.Year,
			"months": monthly,
		})
	})

	v1.Get("/report/trend", func(c *fiber.Ctx) error {
		if reporter == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "reporting requires a relational store")
		}
		trend, err := reporter.Trend(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query trend")
		}
		return c.JSON(trend)
	})
}

// precipitationQuery holds query parameters for the monthly report.
type precipitationQuery struct {
	Year int `validate:"required,min=1940,max=2100"`
}

func (q *precipitationQuery) bind(c *fiber.Ctx) error {
	yearStr := c.Query("year")
	if yearStr == "" {
		q.Year = time.Now().UTC().Year()
		return nil
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "year must be an integer")
	}
	q.Year = year
	return nil
}
