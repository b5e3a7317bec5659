package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Limit: DefaultLimit}},
		{"?limit=5&offset=10", Params{Limit: 5, Offset: 10}},
		{"?limit=500", Params{Limit: MaxLimit}},
		{"?limit=0&offset=-3", Params{Limit: DefaultLimit}},
		{"?limit=ten&offset=x", Params{Limit: DefaultLimit}},
	}

	e := echo.New()
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments"+tt.query, nil)
		c := e.NewContext(req, httptest.NewRecorder())
		if got := FromContext(c); got != tt.want {
			t.Errorf("FromContext(%q) = %+v, want %+v", tt.query, got, tt.want)
		}
	}
}

func TestSlice(t *testing.T) {
	ids := []string{"appt-1", "appt-2", "appt-3", "appt-4", "appt-5"}

	tests := []struct {
		name    string
		p       Params
		want    []string
		hasMore bool
	}{
		{"first page", Params{Limit: 2}, []string{"appt-1", "appt-2"}, true},
		{"middle page", Params{Limit: 2, Offset: 2}, []string{"appt-3", "appt-4"}, true},
		{"last partial page", Params{Limit: 2, Offset: 4}, []string{"appt-5"}, false},
		{"offset past end", Params{Limit: 2, Offset: 9}, []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := Slice(ids, tt.p)
			if page.Total != len(ids) {
				t.Errorf("Total = %d, want %d", page.Total, len(ids))
			}
			if page.HasMore != tt.hasMore {
				t.Errorf("HasMore = %v, want %v", page.HasMore, tt.hasMore)
			}
			if len(page.Data) != len(tt.want) {
				t.Fatalf("Data = %v, want %v", page.Data, tt.want)
			}
			for i := range tt.want {
				if page.Data[i] != tt.want[i] {
					t.Errorf("Data[%d] = %q, want %q", i, page.Data[i], tt.want[i])
				}
			}
		})
	}
}

func TestSlice_EmptyListingEncodesAsArray(t *testing.T) {
	page := Slice[string](nil, Params{Limit: DefaultLimit})
	if page.Data == nil {
		t.Error("expected non-nil Data for an empty listing")
	}
}
