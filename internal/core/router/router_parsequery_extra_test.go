package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseWeatherRequest_QueryString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/weather?lat=55.751&lon=%2037.619", nil)
	lat, lon, err := ParseWeatherRequest(req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if lat != 55.751 || lon != 37.619 {
		t.Fatalf("got %v,%v", lat, lon)
	}
}

func TestParseWeatherRequest_QueryRejections(t *testing.T) {
	cases := map[string]string{
		"/weather?lon=1":            "lat is required",
		"/weather?lat=abc&lon=1":    "lat: must be a number",
		"/weather?lat=NaN&lon=1":    "lat must be in [-90,90]",
		"/weather?lat=1&lon=+Inf":   "lon must be in [-180,180]",
		"/weather?lat=-90.1&lon=10": "lat must be in [-90,90]",
	}
	for target, want := range cases {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		_, _, err := ParseWeatherRequest(req)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: err=%v want %q", target, err, want)
		}
	}
}
