package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// echoOrderHandler разбирает JSON тела заказа и возвращает его обратно.
func echoOrderHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var order struct {
		Title     string `json:"title"`
		City      string `json:"city"`
		MaxAmount int64  `json:"max_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(order)
}

func gzipBody(t *testing.T, s string) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

func TestGzipMiddleware(t *testing.T) {
	const orderJSON = `{"title":"Укладка плитки","city":"Казань","max_amount":75000}`

	tests := []struct {
		name         string
		body         func(t *testing.T) io.Reader
		headers      map[string]string
		wantStatus   int
		wantEncoding string
	}{
		{
			name:         "plain request, client accepts gzip",
			body:         func(*testing.T) io.Reader { return strings.NewReader(orderJSON) },
			headers:      map[string]string{"Accept-Encoding": "gzip"},
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
		},
		{
			name:         "plain request, client without gzip",
			body:         func(*testing.T) io.Reader { return strings.NewReader(orderJSON) },
			headers:      map[string]string{},
			wantStatus:   http.StatusOK,
			wantEncoding: "",
		},
		{
			name:         "compressed request body",
			body:         func(t *testing.T) io.Reader { return gzipBody(t, orderJSON) },
			headers:      map[string]string{"Content-Encoding": "gzip", "Accept-Encoding": "gzip"},
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
		},
		{
			name:         "corrupted compressed body",
			body:         func(*testing.T) io.Reader { return strings.NewReader("not a gzip stream") },
			headers:      map[string]string{"Content-Encoding": "gzip"},
			wantStatus:   http.StatusBadRequest,
			wantEncoding: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/order", tt.body(t))
			req.Header.Set("Content-Type", "application/json")
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			rec := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoOrderHandler)).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status: got %d want %d", res.StatusCode, tt.wantStatus)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.wantEncoding {
				t.Fatalf("content-encoding: got %q want %q", ce, tt.wantEncoding)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			reader := io.Reader(res.Body)
			if tt.wantEncoding == "gzip" {
				zr, err := gzip.NewReader(res.Body)
				if err != nil {
					t.Fatalf("new gzip reader: %v", err)
				}
				defer zr.Close()
				reader = zr
			}

			var got struct {
				Title     string `json:"title"`
				City      string `json:"city"`
				MaxAmount int64  `json:"max_amount"`
			}
			if err := json.NewDecoder(reader).Decode(&got); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if got.Title != "Укладка плитки" || got.City != "Казань" || got.MaxAmount != 75000 {
				t.Fatalf("echoed order mismatch: %+v", got)
			}
		})
	}
}
