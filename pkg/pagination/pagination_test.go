package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/subjects"))
	if p.Limit != DefaultLimit {
		t.Errorf("expected limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(newContext("/subjects?limit=50&offset=10"))
	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(newContext("/subjects?limit=500"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_InvalidValues(t *testing.T) {
	p := FromContext(newContext("/subjects?limit=abc&offset=-5"))
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit, got %d", p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, 20, 0)
	if resp.Total != 50 || resp.Limit != 20 || resp.Offset != 0 {
		t.Errorf("unexpected response %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected has_more=true")
	}

	last := NewResponse([]string{"a"}, 50, 20, 40)
	if last.HasMore {
		t.Error("expected has_more=false on the last page")
	}
}

func TestParams_Navigation(t *testing.T) {
	tests := []struct {
		p        Params
		total    int
		hasNext  bool
		hasPrev  bool
		next     int
		previous int
	}{
		{Params{Limit: 20, Offset: 0}, 50, true, false, 20, 0},
		{Params{Limit: 20, Offset: 20}, 50, true, true, 40, 0},
		{Params{Limit: 20, Offset: 40}, 50, false, true, 60, 20},
		{Params{Limit: 20, Offset: 10}, 15, false, true, 30, 0},
	}
	for _, tt := range tests {
		if got := tt.p.HasNext(tt.total); got != tt.hasNext {
			t.Errorf("%+v HasNext(%d) = %v, want %v", tt.p, tt.total, got, tt.hasNext)
		}
		if got := tt.p.HasPrevious(); got != tt.hasPrev {
			t.Errorf("%+v HasPrevious() = %v, want %v", tt.p, got, tt.hasPrev)
		}
		if got := tt.p.NextOffset(); got != tt.next {
			t.Errorf("%+v NextOffset() = %d, want %d", tt.p, got, tt.next)
		}
		if got := tt.p.PreviousOffset(); got != tt.previous {
			t.Errorf("%+v PreviousOffset() = %d, want %d", tt.p, got, tt.previous)
		}
	}
}

func TestLinkHeader(t *testing.T) {
	u, _ := url.Parse("/api/v1/assessments?subject_id=3")

	p := Params{Limit: 10, Offset: 10}
	got := p.LinkHeader(u, 35)
	want := `</api/v1/assessments?limit=10&offset=20&subject_id=3>; rel="next", ` +
		`</api/v1/assessments?limit=10&offset=0&subject_id=3>; rel="prev"`
	if got != want {
		t.Errorf("LinkHeader() =\n%s\nwant\n%s", got, want)
	}
}

func TestLinkHeader_SinglePage(t *testing.T) {
	u, _ := url.Parse("/api/v1/subjects")
	if got := (Params{Limit: 20}).LinkHeader(u, 5); got != "" {
		t.Errorf("expected empty header for a single page, got %q", got)
	}
}
