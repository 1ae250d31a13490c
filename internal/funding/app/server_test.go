package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSuccess(t *testing.T) {
	t.Setenv("CYCLEFUND_FUNDING_DB_PATH", filepath.Join(t.TempDir(), "funding.db"))

	srv, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.Close)
	if srv.Addr() == "" {
		t.Fatal("expected non-empty address")
	}
}

func TestNewRequiresGrantConfigWhenEnabled(t *testing.T) {
	t.Setenv("CYCLEFUND_FUNDING_DB_PATH", filepath.Join(t.TempDir(), "funding.db"))
	t.Setenv("CYCLEFUND_OPERATOR_GRANTS_ENABLED", "true")
	t.Setenv("CYCLEFUND_OPERATOR_GRANT_ISSUER", "")
	t.Setenv("CYCLEFUND_OPERATOR_GRANT_AUDIENCE", "")
	t.Setenv("CYCLEFUND_OPERATOR_GRANT_PUBLIC_KEY", "")

	if _, err := New("127.0.0.1:0"); err == nil {
		t.Fatal("expected error for missing grant config")
	}
}

func TestServerCloseReleasesListener(t *testing.T) {
	t.Setenv("CYCLEFUND_FUNDING_DB_PATH", filepath.Join(t.TempDir(), "funding.db"))

	srv, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected non-empty address")
	}

	srv.Close()

	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen after close: %v", err)
	}
	_ = l.Close()
}

func TestServeAnswersRequestsUntilContextEnds(t *testing.T) {
	t.Setenv("CYCLEFUND_FUNDING_DB_PATH", filepath.Join(t.TempDir(), "funding.db"))

	srv, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	resp, err := http.Get("http://" + srv.Addr() + "/v1/contracts")
	if err != nil {
		t.Fatalf("get contracts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Contracts []json.RawMessage `json:"contracts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Contracts) != 0 {
		t.Fatalf("contracts = %d, want 0", len(body.Contracts))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after context cancel")
	}
}
