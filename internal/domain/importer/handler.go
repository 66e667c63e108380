package importer

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mneme/emr/internal/domain/record"
	"github.com/mneme/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/import")
	g.POST("", h.ImportByContentType)
	g.POST("/fhir", h.importAs(record.FormatFHIR))
	g.POST("/ccda", h.importAs(record.FormatCCDA))
	g.POST("/oread", h.importAs(record.FormatFlatJSON))
	g.POST("/oread/batch", h.ImportFlatJSONBatch)
	g.GET("/history", h.ListHistory)
	g.GET("/:id", h.GetImport)
}

// importResponse flattens the import id into the result body.
type importResponse struct {
	ImportID *uuid.UUID `json:"import_id,omitempty"`
	*Result
}

func statusFor(r *Result) int {
	switch r.Failure {
	case FailureNone:
		return http.StatusOK
	case FailureMalformed:
		return http.StatusBadRequest
	case FailureExtraction:
		return http.StatusUnprocessableEntity
	case FailureUnsupported:
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

var fileExtensions = map[record.Format][]string{
	record.FormatFHIR:     {".json"},
	record.FormatCCDA:     {".xml"},
	record.FormatFlatJSON: {".json"},
}

func hasExtension(name string, format record.Format) bool {
	lower := strings.ToLower(name)
	for _, ext := range fileExtensions[format] {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// readDocument takes the upload from a multipart "file" field when present,
// otherwise from the raw request body.
func readDocument(c echo.Context, format record.Format) (Document, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return Document{}, echo.NewHTTPError(http.StatusBadRequest, "missing file field")
		}
		if !hasExtension(fh.Filename, format) {
			return Document{}, echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("file must have extension %s", strings.Join(fileExtensions[format], " or ")))
		}
		data, err := readPart(fh)
		if err != nil {
			return Document{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return Document{Name: fh.Filename, Format: format, Data: data}, nil
	}

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return Document{}, he
		}
		return Document{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	name := c.QueryParam("filename")
	if name == "" {
		name = "upload"
	}
	return Document{Name: name, Format: format, Data: data}, nil
}

func (h *Handler) importAs(format record.Format) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h.importDocument(c, format)
	}
}

func (h *Handler) importDocument(c echo.Context, format record.Format) error {
	doc, err := readDocument(c, format)
	if err != nil {
		return err
	}
	res, importID := h.svc.ImportTracked(c.Request().Context(), doc)
	return c.JSON(statusFor(res), importResponse{ImportID: importID, Result: res})
}

// ImportByContentType selects the adapter from the request Content-Type.
func (h *Handler) ImportByContentType(c echo.Context) error {
	format, ok := FormatFromContentType(c.Request().Header.Get(echo.HeaderContentType))
	if !ok {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType,
			"unsupported content type; use application/fhir+json, application/xml or application/json")
	}
	return h.importDocument(c, format)
}

// ImportFlatJSONBatch imports every file in the multipart "files" field.
func (h *Handler) ImportFlatJSONBatch(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected multipart form with files")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files uploaded")
	}

	docs := make([]Document, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s: %v", fh.Filename, err))
		}
		docs = append(docs, Document{Name: fh.Filename, Format: record.FormatFlatJSON, Data: data})
	}

	label := fmt.Sprintf("batch_%d_files", len(docs))
	br := h.svc.ImportBatchTracked(c.Request().Context(), label, record.FormatFlatJSON, docs)
	return c.JSON(http.StatusOK, br)
}

func (h *Handler) ListHistory(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListImportRecords(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*ImportRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetImport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetImportRecord(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "import not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
