package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

func TestParseFieldPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    []pathStep
		wantErr string
	}{
		{
			name: "single key",
			path: "price",
			want: []pathStep{{key: "price"}},
		},
		{
			name: "nested with index",
			path: "data.prices[0].value",
			want: []pathStep{
				{key: "data"},
				{key: "prices"},
				{index: 0, isIndex: true},
				{key: "value"},
			},
		},
		{
			name: "root array",
			path: "[2].price",
			want: []pathStep{
				{index: 2, isIndex: true},
				{key: "price"},
			},
		},
		{
			name: "double index",
			path: "rows[1][3]",
			want: []pathStep{
				{key: "rows"},
				{index: 1, isIndex: true},
				{index: 3, isIndex: true},
			},
		},
		{name: "empty", path: "  ", wantErr: "empty field path"},
		{name: "empty segment", path: "a..b", wantErr: "empty segment"},
		{name: "bad index", path: "a[x]", wantErr: "bad index"},
		{name: "unclosed index", path: "a[0", wantErr: "unclosed index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFieldPath(tt.path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseFieldPath(%q) error = %v, want containing %q", tt.path, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFieldPath(%q) error = %v", tt.path, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseFieldPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("step %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractJSONField(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		path    string
		want    string
		wantErr string
	}{
		{
			name: "top-level number",
			body: `{"price": 71.45}`,
			path: "price",
			want: "71.45",
		},
		{
			name: "nested",
			body: `{"data": {"last": 68.2}}`,
			path: "data.last",
			want: "68.2",
		},
		{
			name: "array element",
			body: `{"prices": [{"value": 70.1}, {"value": 70.2}]}`,
			path: "prices[1].value",
			want: "70.2",
		},
		{
			name: "root array",
			body: `[{"p": 1.5}, {"p": 2.5}]`,
			path: "[0].p",
			want: "1.5",
		},
		{
			name: "quoted number",
			body: `{"price": "71.45"}`,
			path: "price",
			want: "71.45",
		},
		{
			name: "quoted with whitespace",
			body: `{"price": " 71.45 "}`,
			path: "price",
			want: "71.45",
		},
		{
			name: "high precision survives",
			body: `{"price": 71.123456789012345678}`,
			path: "price",
			want: "71.123456789012345678",
		},
		{
			name:    "missing field",
			body:    `{"data": {}}`,
			path:    "data.last",
			wantErr: `field "last" not found`,
		},
		{
			name:    "index out of range",
			body:    `{"prices": [1]}`,
			path:    "prices[3]",
			wantErr: "out of range",
		},
		{
			name:    "index into object",
			body:    `{"prices": {}}`,
			path:    "prices[0]",
			wantErr: "applied to non-array",
		},
		{
			name:    "key into array",
			body:    `[1, 2]`,
			path:    "price",
			wantErr: "applied to non-object",
		},
		{
			name:    "value not numeric",
			body:    `{"price": true}`,
			path:    "price",
			wantErr: "not a number",
		},
		{
			name:    "invalid json",
			body:    `{"price":`,
			path:    "price",
			wantErr: "decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONField([]byte(tt.body), tt.path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("extractJSONField error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractJSONField error = %v", err)
			}
			want := decimal.RequireFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("extractJSONField = %s, want %s", got, want)
			}
		})
	}
}

func TestParsePriceScaleFactor(t *testing.T) {
	src := domain.ScrapeSource{
		Parser:      "json",
		FieldPath:   "cents",
		ScaleFactor: decimal.RequireFromString("0.01"),
	}
	got, err := parsePrice(src, []byte(`{"cents": 7145}`))
	if err != nil {
		t.Fatalf("parsePrice error = %v", err)
	}
	if want := decimal.RequireFromString("71.45"); !got.Equal(want) {
		t.Errorf("parsePrice = %s, want %s", got, want)
	}
}

func TestParsePriceUnknownParser(t *testing.T) {
	src := domain.ScrapeSource{Parser: "xml", FieldPath: "price"}
	if _, err := parsePrice(src, []byte(`<price>1</price>`)); err == nil {
		t.Fatal("parsePrice accepted unknown parser")
	}
}

func TestSourceClientFetch(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"data": {"price": "68.31"}}`))
	}))
	defer srv.Close()

	c := NewSourceClient(2*time.Second, 1, "carbex-test/1.0")
	src := domain.ScrapeSource{Name: "test", URL: srv.URL, FieldPath: "data.price"}

	got, err := c.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("Fetch error = %v", err)
	}
	if want := decimal.RequireFromString("68.31"); !got.Equal(want) {
		t.Errorf("Fetch = %s, want %s", got, want)
	}
	if gotUA != "carbex-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestSourceClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"price": 70}`))
	}))
	defer srv.Close()

	c := NewSourceClient(2*time.Second, 2, "")
	src := domain.ScrapeSource{Name: "flaky", URL: srv.URL, FieldPath: "price"}

	got, err := c.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("Fetch error = %v", err)
	}
	if want := decimal.NewFromInt(70); !got.Equal(want) {
		t.Errorf("Fetch = %s, want %s", got, want)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d times, want 2", n)
	}
}

func TestSourceClientFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewSourceClient(2*time.Second, 3, "")
	src := domain.ScrapeSource{Name: "gone", URL: srv.URL, FieldPath: "price"}

	_, err := c.Fetch(context.Background(), src)
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("Fetch error = %v, want HTTP 404", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestSourceClientExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSourceClient(2*time.Second, 1, "")
	src := domain.ScrapeSource{Name: "down", URL: srv.URL, FieldPath: "price"}

	_, err := c.Fetch(context.Background(), src)
	if err == nil || !strings.Contains(err.Error(), "2 attempts") {
		t.Fatalf("Fetch error = %v, want exhaustion after 2 attempts", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d times, want 2", n)
	}
}

func TestSourceClientFailsFastOnParseError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"wrong": 1}`))
	}))
	defer srv.Close()

	c := NewSourceClient(2*time.Second, 3, "")
	src := domain.ScrapeSource{Name: "bad-path", URL: srv.URL, FieldPath: "price"}

	_, err := c.Fetch(context.Background(), src)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Fetch error = %v, want field not found", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}
