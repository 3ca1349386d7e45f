package cohort

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/neurobd/neurobd/internal/domain/scoring"
	"github.com/neurobd/neurobd/internal/platform/middleware"
)

func newTestHandler() (*Handler, *testStore, *echo.Echo) {
	svc, st := newTestService()
	return NewHandler(svc), st, echo.New()
}

func jsonRequest(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError with %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected status %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&MalformedRowError{Row: 2, Err: validationErr("bad")}, http.StatusUnprocessableEntity},
		{validationErr("bad"), http.StatusBadRequest},
		{fmt.Errorf("get: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("create: %w", ErrDuplicateKey), http.StatusConflict},
		{fmt.Errorf("%w: subject 3", ErrMissingReference), http.StatusUnprocessableEntity},
		{fmt.Errorf("list: %w: dial tcp", ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpError(tt.err).Code; got != tt.code {
			t.Errorf("httpError(%v) = %d, want %d", tt.err, got, tt.code)
		}
	}
}

// ── Subject Handlers ──

func TestHandler_CreateSubject(t *testing.T) {
	h, st, e := newTestHandler()
	c, rec := jsonRequest(e, http.MethodPost, "/subjects",
		`{"age":11,"gender":2,"educational_level":"Secondary","family_history":"Unknown"}`)
	if err := h.CreateSubject(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Subject
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SubjectID != 1 {
		t.Errorf("expected subject_id 1, got %d", got.SubjectID)
	}
	if _, ok := st.subjects.data[1]; !ok {
		t.Error("expected subject stored")
	}
}

func TestHandler_CreateSubject_Errors(t *testing.T) {
	h, st, e := newTestHandler()
	st.subjects.data[1] = *newSubject(1)

	c, _ := jsonRequest(e, http.MethodPost, "/subjects",
		`{"subject_id":1,"age":11,"educational_level":"Secondary","family_history":"No"}`)
	expectHTTPError(t, h.CreateSubject(c), http.StatusConflict)

	c, _ = jsonRequest(e, http.MethodPost, "/subjects", `{"age":11,"educational_level":"x","family_history":"Often"}`)
	expectHTTPError(t, h.CreateSubject(c), http.StatusBadRequest)

	c, _ = jsonRequest(e, http.MethodPost, "/subjects", `{"age":`)
	expectHTTPError(t, h.CreateSubject(c), http.StatusBadRequest)
}

func TestHandler_GetSubject(t *testing.T) {
	h, st, e := newTestHandler()
	st.subjects.data[4] = *newSubject(4)

	c, rec := jsonRequest(e, http.MethodGet, "/subjects/4", "")
	c.SetParamNames("id")
	c.SetParamValues("4")
	if err := h.GetSubject(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = jsonRequest(e, http.MethodGet, "/subjects/5", "")
	c.SetParamNames("id")
	c.SetParamValues("5")
	expectHTTPError(t, h.GetSubject(c), http.StatusNotFound)

	c, _ = jsonRequest(e, http.MethodGet, "/subjects/abc", "")
	c.SetParamNames("id")
	c.SetParamValues("abc")
	expectHTTPError(t, h.GetSubject(c), http.StatusBadRequest)
}

func TestHandler_ListSubjects(t *testing.T) {
	h, st, e := newTestHandler()
	for id := 1; id <= 5; id++ {
		st.subjects.data[id] = *newSubject(id)
	}

	c, rec := jsonRequest(e, http.MethodGet, "/api/v1/subjects?limit=2&offset=2", "")
	if err := h.ListSubjects(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Subject `json:"data"`
		Total int       `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 5 || len(body.Data) != 2 || body.Data[0].SubjectID != 3 {
		t.Errorf("unexpected page: total=%d data=%+v", body.Total, body.Data)
	}
	link := rec.Header().Get("Link")
	if !strings.Contains(link, `rel="next"`) || !strings.Contains(link, `rel="prev"`) {
		t.Errorf("expected next and prev links, got %q", link)
	}

	c, _ = jsonRequest(e, http.MethodGet, "/api/v1/subjects?subject_id=x", "")
	expectHTTPError(t, h.ListSubjects(c), http.StatusBadRequest)
}

func TestHandler_ListSubjects_EmptyIsArray(t *testing.T) {
	h, _, e := newTestHandler()
	c, rec := jsonRequest(e, http.MethodGet, "/api/v1/subjects?subject_id=9", "")
	if err := h.ListSubjects(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", rec.Body.String())
	}
}

func TestHandler_UpdateSubject(t *testing.T) {
	h, st, e := newTestHandler()
	st.subjects.data[1] = *newSubject(1)

	c, rec := jsonRequest(e, http.MethodPatch, "/subjects/1", `{"educational_level":"Higher"}`)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.UpdateSubject(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if st.subjects.data[1].EducationalLevel != "Higher" {
		t.Errorf("expected educational_level updated, got %q", st.subjects.data[1].EducationalLevel)
	}
}

func TestHandler_DeleteSubject(t *testing.T) {
	h, st, e := newTestHandler()
	st.subjects.data[1] = *newSubject(1)
	st.assessments.data[assessmentKey{1, "SNAP-IV"}] = Assessment{SubjectID: 1, Name: "SNAP-IV"}

	c, rec := jsonRequest(e, http.MethodDelete, "/subjects/1", "")
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.DeleteSubject(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res DeleteResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Subjects != 1 || res.Assessments != 1 || res.Indicators != 0 {
		t.Errorf("unexpected delete result %+v", res)
	}
}

// ── Assessment Handlers ──

func TestHandler_CreateAssessment(t *testing.T) {
	h, st, e := newTestHandler()
	st.subjects.data[1] = *newSubject(1)

	body := `{"subject_id":1,"inattention_items":[3,3,3,3,3,3,3,3,3],"hyperactivity_items":[0,0,0,0,0,0,0,0,0],` +
		`"inattention_score":1,"Diagnosis_Class":"bogus"}`
	c, rec := jsonRequest(e, http.MethodPost, "/assessments", body)
	if err := h.CreateAssessment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	a := st.assessments.data[assessmentKey{1, DefaultAssessmentName}]
	if a.InattentionScore != 27 {
		t.Errorf("client score must be ignored, got %d", a.InattentionScore)
	}
	if a.DiagnosisClass != scoring.DiagnosisFromScores(27, 0) {
		t.Errorf("client diagnosis must be ignored, got %q", a.DiagnosisClass)
	}
}

func TestHandler_CreateAssessment_Errors(t *testing.T) {
	h, st, e := newTestHandler()

	items := `"inattention_items":[1,1,1,1,1,1,1,1,1],"hyperactivity_items":[0,0,0,0,0,0,0,0,0]`
	c, _ := jsonRequest(e, http.MethodPost, "/assessments", `{"subject_id":3,`+items+`}`)
	expectHTTPError(t, h.CreateAssessment(c), http.StatusUnprocessableEntity)

	st.subjects.data[1] = *newSubject(1)
	c, _ = jsonRequest(e, http.MethodPost, "/assessments", `{"subject_id":1,"inattention_items":[1,2]}`)
	expectHTTPError(t, h.CreateAssessment(c), http.StatusBadRequest)
}

func TestHandler_CreateAssessment_RequiresItems(t *testing.T) {
	h, st, e := newTestHandler()
	st.subjects.data[1] = *newSubject(1)

	tests := []struct {
		name string
		body string
	}{
		{"no items", `{"subject_id":1}`},
		{"no hyperactivity items", `{"subject_id":1,"inattention_items":[0,0,0,0,0,0,0,0,0]}`},
		{"no inattention items", `{"subject_id":1,"hyperactivity_items":[0,0,0,0,0,0,0,0,0]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := jsonRequest(e, http.MethodPost, "/assessments", tt.body)
			expectHTTPError(t, h.CreateAssessment(c), http.StatusBadRequest)
		})
	}
	if len(st.assessments.data) != 0 {
		t.Errorf("expected no assessments stored, got %d", len(st.assessments.data))
	}
}

func TestHandler_GetAssessment(t *testing.T) {
	h, st, e := newTestHandler()
	st.assessments.data[assessmentKey{2, "follow-up"}] = Assessment{SubjectID: 2, Name: "follow-up"}

	c, rec := jsonRequest(e, http.MethodGet, "/assessments/2/follow-up", "")
	c.SetParamNames("id", "name")
	c.SetParamValues("2", "follow-up")
	if err := h.GetAssessment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = jsonRequest(e, http.MethodGet, "/assessments/2/SNAP-IV", "")
	c.SetParamNames("id", "name")
	c.SetParamValues("2", "SNAP-IV")
	expectHTTPError(t, h.GetAssessment(c), http.StatusNotFound)
}

func TestHandler_DeleteAssessment(t *testing.T) {
	h, st, e := newTestHandler()
	st.assessments.data[assessmentKey{2, "SNAP-IV"}] = Assessment{SubjectID: 2, Name: "SNAP-IV"}

	c, rec := jsonRequest(e, http.MethodDelete, "/assessments/2/SNAP-IV", "")
	c.SetParamNames("id", "name")
	c.SetParamValues("2", "SNAP-IV")
	if err := h.DeleteAssessment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"deleted":1`) {
		t.Errorf("expected deleted count 1, got %s", rec.Body.String())
	}
}

func TestHandler_ListAssessments_Filter(t *testing.T) {
	h, st, e := newTestHandler()
	st.assessments.data[assessmentKey{1, "SNAP-IV"}] = Assessment{SubjectID: 1, Name: "SNAP-IV"}
	st.assessments.data[assessmentKey{2, "SNAP-IV"}] = Assessment{SubjectID: 2, Name: "SNAP-IV"}

	c, rec := jsonRequest(e, http.MethodGet, "/api/v1/assessments?subject_id=2", "")
	if err := h.ListAssessments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Assessment `json:"data"`
		Total int          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 || body.Data[0].SubjectID != 2 {
		t.Errorf("unexpected body %+v", body)
	}
}

// ── Indicator Handlers ──

func TestHandler_CreateIndicator_DefaultsToLatestSubject(t *testing.T) {
	h, st, e := newTestHandler()
	st.subjects.data[3] = *newSubject(3)
	st.subjects.data[8] = *newSubject(8)

	c, rec := jsonRequest(e, http.MethodPost, "/indicators", `{"Sleep_Hours":7,"Daily_Walking_Running_Hours":0.96}`)
	if err := h.CreateIndicator(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	in, ok := st.indicators.data[8]
	if !ok {
		t.Fatal("expected indicator attached to subject 8")
	}
	if in.DailyWalkingRunningHours != 1.0 {
		t.Errorf("expected rounded walking hours 1.0, got %v", in.DailyWalkingRunningHours)
	}
}

func TestHandler_UpdateIndicator_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := jsonRequest(e, http.MethodPatch, "/indicators/1", `{"Sleep_Hours":5}`)
	c.SetParamNames("id")
	c.SetParamValues("1")
	expectHTTPError(t, h.UpdateIndicator(c), http.StatusNotFound)
}

// ── Join ──

func TestHandler_JoinAssessments(t *testing.T) {
	h, st, e := newTestHandler()
	st.subjects.data[1] = *newSubject(1)
	st.assessments.data[assessmentKey{1, "SNAP-IV"}] = Assessment{SubjectID: 1, Name: "SNAP-IV"}

	c, rec := jsonRequest(e, http.MethodGet, "/assessments-joined?subject_id=1", "")
	if err := h.JoinAssessments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data []struct {
			SubjectID  int               `json:"subject_id"`
			Subjects   []json.RawMessage `json:"subjects"`
			Indicators []json.RawMessage `json:"indicators"`
		} `json:"data"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 {
		t.Fatalf("expected one joined row, got %s", rec.Body.String())
	}
	if len(body.Data[0].Subjects) != 1 || body.Data[0].Indicators == nil || len(body.Data[0].Indicators) != 0 {
		t.Errorf("unexpected join row %s", rec.Body.String())
	}
}

// ── Import ──

func multipartUpload(t *testing.T, e *echo.Echo, target, filename, content string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func csvDataset(rows ...[]string) string {
	header := []string{ColAge, ColGender, ColEducationalLevel, ColFamilyHistory, ColFocusScoreVideo,
		ColDifficultyOrganizingTasks, ColLearningDifficulties, ColAnxietyDepressionLevels,
		ColSleepHours, ColDailyActivityHours, ColDailyPhoneUsageHours,
		ColDailyCoffeeTeaConsumption, ColDailyWalkingRunningHours}
	for n := 1; n <= scoring.ItemsPerDomain; n++ {
		header = append(header, InattentionColumn(n))
	}
	for n := 1; n <= scoring.ItemsPerDomain; n++ {
		header = append(header, HyperactivityColumn(n))
	}
	lines := []string{strings.Join(header, ",")}
	for _, r := range rows {
		lines = append(lines, strings.Join(r, ","))
	}
	return strings.Join(lines, "\n") + "\n"
}

func csvRow(age string) []string {
	r := []string{age, "1", "Primary", "No", "40", "1", "0", "2", "7.5", "1", "2", "1", "0.55"}
	for i := 0; i < 2*scoring.ItemsPerDomain; i++ {
		r = append(r, "1")
	}
	return r
}

func TestHandler_Import(t *testing.T) {
	h, st, e := newTestHandler()
	c, rec := multipartUpload(t, e, "/import", "adhd_data.csv", csvDataset(csvRow("9"), csvRow("12")))
	if err := h.Import(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var report ImportReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Rows != 2 || report.SubjectsInserted != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	if st.subjects.data[2].Age != 12 {
		t.Errorf("expected subject 2 age 12, got %d", st.subjects.data[2].Age)
	}
	if st.indicators.data[1].DailyWalkingRunningHours != 0.6 {
		t.Errorf("expected walking hours 0.6, got %v", st.indicators.data[1].DailyWalkingRunningHours)
	}
}

func TestHandler_Import_MalformedRow(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := multipartUpload(t, e, "/import", "adhd_data.csv", csvDataset(csvRow("9"), csvRow("old")))
	err := h.Import(c)
	expectHTTPError(t, err, http.StatusUnprocessableEntity)

	var he *echo.HTTPError
	errors.As(err, &he)
	body, ok := he.Message.(importFailure)
	if !ok {
		t.Fatalf("expected importFailure body, got %T", he.Message)
	}
	if body.Row != 2 || body.Column != ColAge {
		t.Errorf("expected row 2 column Age, got row %d column %q", body.Row, body.Column)
	}
	if body.Report == nil || body.Report.Rows != 1 {
		t.Errorf("expected report with one committed row, got %+v", body.Report)
	}
}

func TestHandler_Import_BadRequests(t *testing.T) {
	h, _, e := newTestHandler()

	c, _ := jsonRequest(e, http.MethodPost, "/import", `{}`)
	expectHTTPError(t, h.Import(c), http.StatusBadRequest)

	c, _ = multipartUpload(t, e, "/import", "adhd_data.csv", "")
	expectHTTPError(t, h.Import(c), http.StatusBadRequest)

	c, _ = multipartUpload(t, e, "/import?force=maybe", "adhd_data.csv", csvDataset(csvRow("9")))
	expectHTTPError(t, h.Import(c), http.StatusBadRequest)
}

func TestHandler_Import_OversizedUpload(t *testing.T) {
	h, st, e := newTestHandler()
	c, _ := multipartUpload(t, e, "/import", "adhd_data.csv", csvDataset(csvRow("9"), csvRow("12")))
	c.SetPath("/import")
	// unknown length, so the limit trips while the form is read
	c.Request().ContentLength = -1

	err := middleware.BodyLimit(16, 64, "/import")(h.Import)(c)
	expectHTTPError(t, err, http.StatusRequestEntityTooLarge)
	if len(st.subjects.data) != 0 {
		t.Errorf("expected nothing imported, got %d subjects", len(st.subjects.data))
	}
}

func TestHandler_Import_MissingColumn(t *testing.T) {
	h, st, e := newTestHandler()
	content := "Age,Gender\n9,1\n"
	c, _ := multipartUpload(t, e, "/import", "adhd_data.csv", content)
	err := h.Import(c)
	expectHTTPError(t, err, http.StatusUnprocessableEntity)

	var he *echo.HTTPError
	errors.As(err, &he)
	body, ok := he.Message.(importFailure)
	if !ok {
		t.Fatalf("expected importFailure body, got %T", he.Message)
	}
	if body.Row != 0 || body.Column != ColEducationalLevel {
		t.Errorf("expected header error on %s, got row %d column %q", ColEducationalLevel, body.Row, body.Column)
	}
	if len(st.subjects.data) != 0 {
		t.Error("nothing may be written when the header is incomplete")
	}
}

func TestHandler_IndicatorReadAndDelete(t *testing.T) {
	h, st, e := newTestHandler()
	st.indicators.data[4] = Indicator{SubjectID: 4, SleepHours: 6}

	c, rec := jsonRequest(e, http.MethodGet, "/indicators/4", "")
	c.SetParamNames("id")
	c.SetParamValues("4")
	if err := h.GetIndicator(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"subject_id":4`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	c, rec = jsonRequest(e, http.MethodGet, "/api/v1/indicators", "")
	if err := h.ListIndicators(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected total 1, got %s", rec.Body.String())
	}

	c, rec = jsonRequest(e, http.MethodDelete, "/indicators/4", "")
	c.SetParamNames("id")
	c.SetParamValues("4")
	if err := h.DeleteIndicator(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"deleted":1`) {
		t.Errorf("expected deleted count 1, got %s", rec.Body.String())
	}

	c, _ = jsonRequest(e, http.MethodGet, "/indicators/abc", "")
	c.SetParamNames("id")
	c.SetParamValues("abc")
	expectHTTPError(t, h.GetIndicator(c), http.StatusBadRequest)
}
