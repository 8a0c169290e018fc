package conversion

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nhcx/fhir-converter/internal/mapping"
	"github.com/nhcx/fhir-converter/internal/platform/fhir"
	"github.com/nhcx/fhir-converter/internal/platform/hl7v2"
	"github.com/nhcx/fhir-converter/pkg/pagination"
)

// Handler exposes the conversion API over HTTP.
type Handler struct {
	svc     *Service
	profile *mapping.Profile
}

// NewHandler builds the Handler. profile may be nil when no mapping profile
// was loaded (the profile endpoint then returns 404).
func NewHandler(svc *Service, profile *mapping.Profile) *Handler {
	return &Handler{svc: svc, profile: profile}
}

// RegisterRoutes mounts the conversion endpoints on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/convert/coverage", h.ConvertCoverage)
	api.GET("/convert/history", h.History)
	api.GET("/convert/records/:hash", h.GetRecord)
	api.GET("/convert/profile", h.Profile)
}

// ConvertCoverage accepts a raw HL7 v2 message as text/plain and returns
// the FHIR bundle JSON. A message without a PID segment is a caller error
// (400); everything else that fails is a 500.
func (h *Handler) ConvertCoverage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}

	doc, err := h.svc.Convert(c.Request().Context(), string(body))
	if err != nil {
		if errors.Is(err, hl7v2.ErrNoPIDSegment) {
			return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSONBlob(http.StatusOK, []byte(doc))
}

// History lists past conversion attempts, newest first.
func (h *Handler) History(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// GetRecord fetches one conversion record by content hash.
func (h *Handler) GetRecord(c echo.Context) error {
	rec, err := h.svc.GetByHash(c.Request().Context(), c.Param("hash"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("ConversionRecord", c.Param("hash")))
		}
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, rec)
}

// Profile returns the mapping profile this server was started with.
func (h *Handler) Profile(c echo.Context) error {
	if h.profile == nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("MappingProfile", "current"))
	}
	return c.JSON(http.StatusOK, h.profile)
}
