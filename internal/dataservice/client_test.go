package dataservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticProvider struct {
	token string
}

func (p staticProvider) Credential() (string, bool) {
	return p.token, p.token != ""
}

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, staticProvider{token: token}, 5*time.Second)
}

func TestListPathsSendsBearerToken(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": "p1", "path": "/hooks/a", "webhook_count": 3},
			},
		})
	}, "tok-abc")

	paths, err := c.ListPaths(context.Background())
	if err != nil {
		t.Fatalf("ListPaths() error: %v", err)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer tok-abc")
	}
	if len(paths) != 1 || paths[0].ID != "p1" || paths[0].WebhookCount != 3 {
		t.Errorf("ListPaths() = %+v, want one path p1 with count 3", paths)
	}
}

func TestServiceErrorSurfacedVerbatim(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "Path cannot be empty",
		})
	}, "tok")

	_, err := c.CreatePath(context.Background(), "", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CreatePath() error = %v, want *APIError", err)
	}
	if apiErr.Message != "Path cannot be empty" {
		t.Errorf("APIError.Message = %q, want service message verbatim", apiErr.Message)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("APIError.Status = %d, want 400", apiErr.Status)
	}
}

func TestTransportFailureNormalized(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on
	c := New(srv.URL, staticProvider{}, time.Second)

	_, err := c.ListPaths(context.Background())
	if err == nil {
		t.Fatal("ListPaths() against a dead server succeeded")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("transport failure classified as APIError: %v", err)
	}
}

func TestListRecordsQueryAndDecode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %q, want 25", got)
		}
		if got := r.URL.Query().Get("skip"); got != "50" {
			t.Errorf("skip = %q, want 50", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"path":        "/hooks/a",
				"total_count": 120,
				"data": []map[string]any{
					{"id": "r1", "path_id": "p1", "content_type": "application/json"},
				},
			},
		})
	}, "tok")

	page, err := c.ListRecords(context.Background(), "p1", 25, 50)
	if err != nil {
		t.Fatalf("ListRecords() error: %v", err)
	}
	if page.TotalCount != 120 || len(page.Data) != 1 || page.Data[0].PathID != "p1" {
		t.Errorf("ListRecords() = %+v, want total 120 and one record for p1", page)
	}
}

func TestChartSeriesDecode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"timestamps": []int64{1000, 61000},
				"counts":     []int{2, 5},
			},
		})
	}, "tok")

	series, err := c.ChartSeries(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ChartSeries() error: %v", err)
	}
	if series.Len() != 2 || series.Counts[1] != 5 {
		t.Errorf("ChartSeries() = %+v, want 2 buckets ending in count 5", series)
	}
}
