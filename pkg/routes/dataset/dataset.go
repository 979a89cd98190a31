package dataset

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Service is the subset of *pipeline.Service the routes call.
type Service interface {
	Export(ctx context.Context, req pipeline.ExportRequest) (*pipeline.ExportResult, error)
	Import(ctx context.Context, req pipeline.ImportRequest) (*pipeline.ImportResult, error)
	WriteUnlinked(ctx context.Context, datasetName string, w io.Writer) error
	ListDatasets(ctx context.Context) ([]models.DatasetMetadataRead, error)
	GetDataset(ctx context.Context, id int64) (*models.DatasetMetadataRead, error)
	DeleteDataset(ctx context.Context, id int64) error
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register registers dataset, export and import routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/datasets", h.List)
	g.GET("/datasets/:id", h.Get)
	g.DELETE("/datasets/:id", h.Delete)
	g.POST("/exports", h.Export)
	g.POST("/imports", h.Import)
	g.GET("/imports/:name/unlinked", h.Unlinked)
}

type ListResponse struct {
	Items      []models.DatasetMetadataRead `json:"items"`
	TotalCount int                          `json:"total_count"`
}

// List returns the metadata of every stored dataset version
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "dataset_handler.List")
	defer span.End()

	items, err := h.service.ListDatasets(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse{Items: items, TotalCount: len(items)})
}

// Get returns a single dataset by ID
func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "dataset_handler.Get")
	defer span.End()

	id, err := parseID(c)
	if err != nil {
		return err
	}

	dataset, err := h.service.GetDataset(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dataset)
}

// Delete removes a dataset and its activities
func (h *Handler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "dataset_handler.Delete")
	defer span.End()

	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteDataset(ctx, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Export flattens source databases into a new dataset version
func (h *Handler) Export(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "dataset_handler.Export")
	defer span.End()

	var req pipeline.ExportRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := models.Validate(req); err != nil {
		return err
	}

	result, err := h.service.Export(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// Import links a dataset into the target graph
func (h *Handler) Import(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "dataset_handler.Import")
	defer span.End()

	var req pipeline.ImportRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := models.Validate(req); err != nil {
		return err
	}

	result, err := h.service.Import(ctx, req)
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if req.DryRun {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

// Unlinked returns the exchanges of a dataset that do not link as CSV
func (h *Handler) Unlinked(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "dataset_handler.Unlinked")
	defer span.End()

	name := c.Param("name")
	if err := models.ValidateValue(name, "required"); err != nil {
		return err
	}

	// Buffered so a failure still renders as a JSON error.
	var buf bytes.Buffer
	if err := h.service.WriteUnlinked(ctx, name, &buf); err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`-unlinked.csv"`)
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "id must be a positive integer")
	}
	return id, nil
}
