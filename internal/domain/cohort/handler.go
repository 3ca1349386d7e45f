package cohort

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/neurobd/neurobd/internal/platform/auth"
	"github.com/neurobd/neurobd/internal/platform/dataset"
	"github.com/neurobd/neurobd/pkg/pagination"
)

// ImportPath is the upload route, exempt from the request timeout and
// subject to the upload body limit.
const ImportPath = "/import"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleEditor))
	readGroup.GET("/subjects", h.ListSubjects)
	readGroup.GET("/subjects/:id", h.GetSubject)
	readGroup.GET("/assessments", h.ListAssessments)
	readGroup.GET("/assessments/:id/:name", h.GetAssessment)
	readGroup.GET("/indicators", h.ListIndicators)
	readGroup.GET("/indicators/:id", h.GetIndicator)
	readGroup.GET("/assessments-joined", h.JoinAssessments)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleEditor))
	writeGroup.POST("/subjects", h.CreateSubject)
	writeGroup.PATCH("/subjects/:id", h.UpdateSubject)
	writeGroup.DELETE("/subjects/:id", h.DeleteSubject)
	writeGroup.POST("/assessments", h.CreateAssessment)
	writeGroup.PATCH("/assessments/:id/:name", h.UpdateAssessment)
	writeGroup.DELETE("/assessments/:id/:name", h.DeleteAssessment)
	writeGroup.POST("/indicators", h.CreateIndicator)
	writeGroup.PATCH("/indicators/:id", h.UpdateIndicator)
	writeGroup.DELETE("/indicators/:id", h.DeleteIndicator)
	writeGroup.POST(ImportPath, h.Import)
}

// httpError maps service errors onto HTTP statuses.
func httpError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, ErrMalformedRow):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateKey):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrMissingReference):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func pathSubjectID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	return id, nil
}

func queryFromContext(c echo.Context) (Query, pagination.Params, error) {
	pg := pagination.FromContext(c)
	q := Query{Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("subject_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return q, pg, echo.NewHTTPError(http.StatusBadRequest, "invalid subject_id")
		}
		q.SubjectID = &id
	}
	return q, pg, nil
}

func listResponse(c echo.Context, pg pagination.Params, data interface{}, total int) error {
	if link := pg.LinkHeader(c.Request().URL, total); link != "" {
		c.Response().Header().Set("Link", link)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(data, total, pg.Limit, pg.Offset))
}

// -- Subject Handlers --

func (h *Handler) CreateSubject(c echo.Context) error {
	var s Subject
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateSubject(c.Request().Context(), &s); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSubject(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	s, err := h.svc.GetSubject(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListSubjects(c echo.Context) error {
	q, pg, err := queryFromContext(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ReadSubjects(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return listResponse(c, pg, items, total)
}

func (h *Handler) UpdateSubject(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	var p SubjectPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.svc.UpdateSubject(c.Request().Context(), id, &p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) DeleteSubject(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.DeleteSubject(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Assessment Handlers --

// assessmentInput is the create body. The item arrays shadow the embedded
// ones so an omitted array can be told apart from nine zeros.
type assessmentInput struct {
	Assessment
	InattentionItems   *Items `json:"inattention_items"`
	HyperactivityItems *Items `json:"hyperactivity_items"`
}

func (in *assessmentInput) assessment() (*Assessment, error) {
	if in.InattentionItems == nil {
		return nil, validationErr("inattention_items is required")
	}
	if in.HyperactivityItems == nil {
		return nil, validationErr("hyperactivity_items is required")
	}
	a := in.Assessment
	a.InattentionItems = *in.InattentionItems
	a.HyperactivityItems = *in.HyperactivityItems
	return &a, nil
}

func (h *Handler) CreateAssessment(c echo.Context) error {
	var in assessmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := in.assessment()
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.CreateAssessment(c.Request().Context(), a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAssessment(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssessment(c.Request().Context(), id, c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAssessments(c echo.Context) error {
	q, pg, err := queryFromContext(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ReadAssessments(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return listResponse(c, pg, items, total)
}

func (h *Handler) UpdateAssessment(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	var p AssessmentPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateAssessment(c.Request().Context(), id, c.Param("name"), &p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAssessment(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.DeleteAssessment(c.Request().Context(), id, c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

// -- Indicator Handlers --

func (h *Handler) CreateIndicator(c echo.Context) error {
	var in Indicator
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateIndicator(c.Request().Context(), &in); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, in)
}

func (h *Handler) GetIndicator(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	in, err := h.svc.GetIndicator(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handler) ListIndicators(c echo.Context) error {
	q, pg, err := queryFromContext(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ReadIndicators(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return listResponse(c, pg, items, total)
}

func (h *Handler) UpdateIndicator(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	var p IndicatorPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := h.svc.UpdateIndicator(c.Request().Context(), id, &p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handler) DeleteIndicator(c echo.Context) error {
	id, err := pathSubjectID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.DeleteIndicator(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

// -- Join --

func (h *Handler) JoinAssessments(c echo.Context) error {
	q, _, err := queryFromContext(c)
	if err != nil {
		return err
	}
	joined, err := h.svc.JoinAssessments(c.Request().Context(), q.SubjectID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  joined,
		"total": len(joined),
	})
}

// -- Import --

// importFailure is the body returned when a run stops part way.
type importFailure struct {
	Message string        `json:"message"`
	Row     int           `json:"row,omitempty"`
	Column  string        `json:"column,omitempty"`
	Report  *ImportReport `json:"report,omitempty"`
}

// Import loads an uploaded CSV or XLSX dataset sent as the multipart field
// "file". ?force=true bypasses the populated fast path.
func (h *Handler) Import(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		// body limit and similar middleware errors surface through the
		// multipart reader
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, `multipart field "file" is required`)
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	table, err := dataset.Decode(fh.Filename, f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	opts := ImportOptions{}
	if v := c.QueryParam("force"); v != "" {
		if opts.Force, err = strconv.ParseBool(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid force flag")
		}
	}

	report, err := h.svc.ImportTable(c.Request().Context(), table, opts)
	if err != nil {
		he := httpError(err)
		body := importFailure{Message: err.Error(), Report: report}
		var rowErr *MalformedRowError
		if errors.As(err, &rowErr) {
			body.Row, body.Column = rowErr.Row, rowErr.Column
		}
		if he.Code >= http.StatusInternalServerError {
			body.Message = he.Message.(string)
		}
		return echo.NewHTTPError(he.Code, body)
	}
	return c.JSON(http.StatusOK, report)
}
