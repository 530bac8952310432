package anonymization

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/deid/deid/internal/platform/auth"
	"github.com/deid/deid/internal/platform/fhir"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Any authenticated role may run jobs; scans included.
	run := api.Group("", auth.RequireRole("admin", "analyst", "viewer"))
	run.POST("/deidentify/tabular", h.DeidentifyTabular)
	run.POST("/deidentify/bundle", h.DeidentifyBundle)
	run.POST("/phi/scan", h.Scan)
}

func (h *Handler) DeidentifyTabular(c echo.Context) error {
	var req TabularRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Dataset.Columns) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "dataset.columns is required")
	}
	for i, row := range req.Dataset.Rows {
		if len(row) != len(req.Dataset.Columns) {
			return echo.NewHTTPError(http.StatusBadRequest,
				"dataset rows must match column count (row "+strconv.Itoa(i)+")")
		}
	}

	resp, err := h.svc.DeidentifyTabular(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeidentifyBundle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	bundle, err := fhir.ParseBundle(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := h.svc.DeidentifyBundle(bundle)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Scan(c echo.Context) error {
	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Dataset.Columns) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "dataset.columns is required")
	}
	return c.JSON(http.StatusOK, h.svc.Scan(&req))
}
