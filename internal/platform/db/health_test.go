package db

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestEvaluateHealth(t *testing.T) {
	stats := &PoolStats{TotalConns: 3, MaxConns: 20}
	tests := []struct {
		name       string
		pingErr    error
		tenants    []string
		listErr    error
		wantStatus int
		wantError  string
	}{
		{"default tenant provisioned", nil, []string{"acme", "default"}, nil, http.StatusOK, ""},
		{"database down", errors.New("connection refused"), nil, nil, http.StatusServiceUnavailable, "connection refused"},
		{"schema listing fails", nil, nil, errors.New("permission denied"), http.StatusServiceUnavailable, "permission denied"},
		{"default tenant missing", nil, []string{"acme"}, nil, http.StatusServiceUnavailable, `tenant "default"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, h := evaluateHealth(tt.pingErr, tt.tenants, tt.listErr, "default", stats)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantError == "" {
				if h.Status != "healthy" || h.Error != "" {
					t.Errorf("unexpected health %+v", h)
				}
				if h.Tenants != 2 {
					t.Errorf("tenants = %d, want 2", h.Tenants)
				}
				return
			}
			if h.Status != "unhealthy" || !strings.Contains(h.Error, tt.wantError) {
				t.Errorf("unexpected health %+v", h)
			}
		})
	}
}

func TestHealth_JSON(t *testing.T) {
	_, h := evaluateHealth(nil, []string{"default"}, nil, "default", &PoolStats{MinConns: 2, MaxConns: 20, AcquiredConns: 20, Saturated: true})

	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["error"]; ok {
		t.Error("healthy body should omit error")
	}
	if decoded["default_tenant"] != "default" || decoded["tenants"] != float64(1) {
		t.Errorf("unexpected body: %s", data)
	}
	pool, _ := decoded["pool"].(map[string]interface{})
	for _, key := range []string{"min_conns", "max_conns", "acquired_conns", "saturated"} {
		if _, ok := pool[key]; !ok {
			t.Errorf("expected pool key %q", key)
		}
	}
}
