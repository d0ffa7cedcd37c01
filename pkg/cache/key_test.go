package cache

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPathKey_Generate(t *testing.T) {
	tests := []struct {
		name   string
		key    PathKey
		method string
		target string
		want   string
	}{
		{
			name:   "simple path",
			method: http.MethodGet,
			target: "/p",
			want:   "api_cache:/p",
		},
		{
			name:   "query string ignored",
			method: http.MethodGet,
			target: "/v1/items?page=2",
			want:   "api_cache:/v1/items",
		},
		{
			name:   "method ignored",
			method: http.MethodDelete,
			target: "/v1/items",
			want:   "api_cache:/v1/items",
		},
		{
			name:   "custom prefix",
			key:    PathKey{Prefix: "edge:"},
			method: http.MethodGet,
			target: "/v1/items",
			want:   "edge:/v1/items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if got := tt.key.Generate(req); got != tt.want {
				t.Errorf("Generate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestKey_Generate(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		want   string
	}{
		{
			name:   "no query",
			method: http.MethodGet,
			target: "/v1/items",
			want:   "api_cache:GET:/v1/items",
		},
		{
			name:   "query params sorted",
			method: http.MethodGet,
			target: "/v1/items?sort=asc&page=1",
			want:   "api_cache:GET:/v1/items:page=1&sort=asc",
		},
		{
			name:   "method distinguishes keys",
			method: http.MethodHead,
			target: "/v1/items",
			want:   "api_cache:HEAD:/v1/items",
		},
		{
			name:   "repeated values keep their order",
			method: http.MethodGet,
			target: "/v1/items?id=2&id=1",
			want:   "api_cache:GET:/v1/items:id=2&id=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if got := (RequestKey{}).Generate(req); got != tt.want {
				t.Errorf("Generate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestKey_Deterministic(t *testing.T) {
	key := RequestKey{}

	a := key.Generate(httptest.NewRequest(http.MethodGet, "/p?b=2&a=1", nil))
	b := key.Generate(httptest.NewRequest(http.MethodGet, "/p?a=1&b=2", nil))
	if a != b {
		t.Errorf("Keys differ for reordered query: %q vs %q", a, b)
	}

	c := key.Generate(httptest.NewRequest(http.MethodGet, "/p?a=1&b=3", nil))
	if a == c {
		t.Errorf("Distinct queries produced the same key %q", a)
	}
}

func TestRequestKey_HashQuery(t *testing.T) {
	key := RequestKey{HashQuery: true}

	long := "/search?q=" + strings.Repeat("x", 4096)
	got := key.Generate(httptest.NewRequest(http.MethodGet, long, nil))

	if !strings.HasPrefix(got, "api_cache:GET:/search:blake3=") {
		t.Fatalf("Unexpected hashed key %q", got)
	}
	// prefix + method + path + "blake3=" + 64 hex chars
	if len(got) > 100 {
		t.Errorf("Hashed key too long: %d bytes", len(got))
	}

	again := key.Generate(httptest.NewRequest(http.MethodGet, long, nil))
	if got != again {
		t.Errorf("Hashed key not deterministic: %q vs %q", got, again)
	}

	noQuery := key.Generate(httptest.NewRequest(http.MethodGet, "/search", nil))
	if noQuery != "api_cache:GET:/search" {
		t.Errorf("Key without query = %q", noQuery)
	}
}

func TestKeyFunc(t *testing.T) {
	var gen KeyGenerator = KeyFunc(func(r *http.Request) string {
		return "custom:" + r.Host
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/p", nil)
	if got := gen.Generate(req); got != "custom:example.com" {
		t.Errorf("Generate() = %q", got)
	}
}
