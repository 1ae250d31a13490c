package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/cyclefund/internal/funding/grant"
	"github.com/louisbranch/cyclefund/internal/funding/service"
	"github.com/louisbranch/cyclefund/internal/funding/storage/sqlite"
)

var apiStart = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

type apiFixture struct {
	mux   *http.ServeMux
	clock *time.Time
}

func newAPIFixture(t *testing.T, opts ...Option) *apiFixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "funding.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	current := apiStart
	svc := service.New(store, store,
		service.WithClock(func() time.Time { return current }),
		service.WithIDGenerator(func() (string, error) { return "c1", nil }),
	)
	mux := http.NewServeMux()
	RegisterRoutes(mux, NewHandler(svc, opts...))
	return &apiFixture{mux: mux, clock: &current}
}

func (f *apiFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, header http.Header) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, decoded
}

func (f *apiFixture) post(t *testing.T, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	return f.do(t, http.MethodPost, path, body, nil)
}

func (f *apiFixture) get(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	return f.do(t, http.MethodGet, path, nil, nil)
}

func (f *apiFixture) mustPost(t *testing.T, path string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()
	status, resp := f.post(t, path, body)
	if status != wantStatus {
		t.Fatalf("POST %s = %d (%v), want %d", path, status, resp, wantStatus)
	}
	return resp
}

func (f *apiFixture) createOpenContract(t *testing.T) {
	t.Helper()
	f.mustPost(t, "/v1/contracts", map[string]interface{}{
		"owner":                "owner",
		"variant":              "open",
		"cycle_length_ms":      time.Hour.Milliseconds(),
		"accrual_rate":         1_000_000,
		"contributor_fee_rate": 100_000,
		"percent_scale":        1_000_000,
	}, http.StatusCreated)
}

func (f *apiFixture) fund(t *testing.T, address string, amount uint64) {
	t.Helper()
	f.mustPost(t, "/v1/token/mint", map[string]interface{}{
		"to": address, "amount": amount,
	}, http.StatusOK)
	f.mustPost(t, "/v1/token/approvals", map[string]interface{}{
		"owner": address, "spender": "c1", "amount": amount,
	}, http.StatusOK)
}

func TestContractLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.createOpenContract(t)
	f.fund(t, "alice", 10_000)
	f.fund(t, "bob", 10_000)

	resp := f.mustPost(t, "/v1/contracts/c1/contributions", map[string]interface{}{
		"contributor": "alice", "amount": 10_000,
	}, http.StatusCreated)
	if resp["index"].(float64) != 0 || resp["fee"].(float64) != 0 {
		t.Fatalf("contribute = %v, want index 0 fee 0", resp)
	}

	f.advance(5 * time.Hour)
	resp = f.mustPost(t, "/v1/contracts/c1/contributions", map[string]interface{}{
		"contributor": "bob", "amount": 10_000,
	}, http.StatusCreated)
	if resp["fee"].(float64) != 1_000 {
		t.Fatalf("bob fee = %v, want 1000", resp["fee"])
	}

	f.advance(5 * time.Hour)
	status, resp := f.get(t, "/v1/contracts/c1/positions/alice/0")
	if status != http.StatusOK {
		t.Fatalf("check position = %d (%v)", status, resp)
	}
	if resp["fees_earned"].(float64) != 1_000 {
		t.Fatalf("fees_earned = %v, want 1000", resp["fees_earned"])
	}

	resp = f.mustPost(t, "/v1/contracts/c1/positions/alice/0/collect", nil, http.StatusOK)
	if resp["payout"].(float64) != 1_000 {
		t.Fatalf("collect payout = %v, want 1000", resp["payout"])
	}

	resp = f.mustPost(t, "/v1/contracts/c1/positions/alice/any/withdraw", nil, http.StatusOK)
	if resp["payout"].(float64) != 10_000 {
		t.Fatalf("withdraw payout = %v, want 10000", resp["payout"])
	}

	status, resp = f.get(t, "/v1/token/balances/alice")
	if status != http.StatusOK || resp["balance"].(float64) != 11_000 {
		t.Fatalf("alice balance = %d (%v), want 11000", status, resp)
	}

	status, resp = f.get(t, "/v1/contracts/c1")
	if status != http.StatusOK {
		t.Fatalf("get contract = %d (%v)", status, resp)
	}
	if resp["tokens_contributed"].(float64) != 19_000 {
		t.Fatalf("tokens_contributed = %v, want 19000", resp["tokens_contributed"])
	}
	if resp["status"].(string) != "funding" {
		t.Fatalf("status = %v, want funding", resp["status"])
	}
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	f.createOpenContract(t)

	status, resp := f.get(t, "/v1/contracts/missing")
	if status != http.StatusNotFound {
		t.Fatalf("missing contract = %d (%v), want 404", status, resp)
	}
	if resp["error"].(string) != "CONTRACT_NOT_FOUND" {
		t.Fatalf("error = %v, want CONTRACT_NOT_FOUND", resp["error"])
	}

	status, resp = f.get(t, "/v1/contracts/c1/positions/alice/nope")
	if status != http.StatusBadRequest {
		t.Fatalf("bad index = %d (%v), want 400", status, resp)
	}

	status, resp = f.post(t, "/v1/contracts/c1/contributions", map[string]interface{}{
		"contributor": "alice", "amount": 0,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("zero contribution = %d (%v), want 400", status, resp)
	}

	status, resp = f.post(t, "/v1/contracts/c1/contributions", map[string]interface{}{
		"contributor": "alice", "amount": 100,
	})
	if status != http.StatusConflict {
		t.Fatalf("no allowance = %d (%v), want 409", status, resp)
	}
	if resp["error"].(string) != "INSUFFICIENT_ALLOWANCE" {
		t.Fatalf("error = %v, want INSUFFICIENT_ALLOWANCE", resp["error"])
	}
}

func TestCallerFieldGatesPrivilegedRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.createOpenContract(t)

	status, resp := f.post(t, "/v1/contracts/c1/pause", map[string]interface{}{
		"caller": "mallory", "paused": true,
	})
	if status != http.StatusForbidden {
		t.Fatalf("pause as mallory = %d (%v), want 403", status, resp)
	}

	f.mustPost(t, "/v1/contracts/c1/pause", map[string]interface{}{
		"caller": "owner", "paused": true,
	}, http.StatusOK)

	status, resp = f.get(t, "/v1/contracts/c1")
	if status != http.StatusOK || resp["paused"].(bool) != true {
		t.Fatalf("contract = %d (%v), want paused", status, resp)
	}
}

func TestOperatorGrantGatesPrivilegedRoutes(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := grant.Config{
		Issuer:   "cyclefund-operator",
		Audience: "cyclefund-funding",
		Key:      public,
		Now:      func() time.Time { return apiStart },
	}
	f := newAPIFixture(t, WithOperatorGrants(cfg))
	f.createOpenContract(t)

	// Without a grant the caller field no longer suffices.
	status, resp := f.post(t, "/v1/contracts/c1/pause", map[string]interface{}{
		"caller": "owner", "paused": true,
	})
	if status != http.StatusForbidden {
		t.Fatalf("pause without grant = %d (%v), want 403", status, resp)
	}

	claims := jwt.MapClaims{
		"iss":         "cyclefund-operator",
		"aud":         "cyclefund-funding",
		"jti":         "grant-1",
		"exp":         apiStart.Add(5 * time.Minute).Unix(),
		"contract_id": "c1",
		"operator":    "owner",
		"operations":  []string{grant.OpPause},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(private)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}

	header := http.Header{}
	header.Set("X-Operator-Grant", token)
	status, resp = f.do(t, http.MethodPost, "/v1/contracts/c1/pause", map[string]interface{}{
		"paused": true,
	}, header)
	if status != http.StatusOK {
		t.Fatalf("pause with grant = %d (%v), want 200", status, resp)
	}

	// The same grant does not cover other operations.
	status, resp = f.do(t, http.MethodPost, "/v1/contracts/c1/funds/withdrawals", map[string]interface{}{
		"to": "owner", "amount": 1,
	}, header)
	if status != http.StatusForbidden {
		t.Fatalf("withdraw funds with pause grant = %d (%v), want 403", status, resp)
	}
}

func TestGoalContractOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	deadline := apiStart.Add(10 * time.Hour)
	f.mustPost(t, "/v1/contracts", map[string]interface{}{
		"owner":                "owner",
		"variant":              "goal",
		"cycle_length_ms":      time.Hour.Milliseconds(),
		"accrual_rate":         1_000_000,
		"contributor_fee_rate": 100_000,
		"percent_scale":        1_000_000,
		"funding_goal":         50_000,
		"deadline":             deadline.Format(time.RFC3339),
	}, http.StatusCreated)
	f.fund(t, "alice", 5_000)
	f.fund(t, "owner", 1_000)

	f.mustPost(t, "/v1/contracts/c1/contributions", map[string]interface{}{
		"contributor": "alice", "amount": 5_000,
	}, http.StatusCreated)
	f.mustPost(t, "/v1/contracts/c1/stakes", map[string]interface{}{
		"caller": "owner", "amount": 1_000,
	}, http.StatusCreated)

	f.advance(11 * time.Hour)
	status, resp := f.get(t, "/v1/contracts/c1")
	if status != http.StatusOK || resp["status"].(string) != "failed" {
		t.Fatalf("contract = %d (%v), want failed status", status, resp)
	}

	resp = f.mustPost(t, "/v1/contracts/c1/positions/alice/0/refund", nil, http.StatusOK)
	if resp["payout"].(float64) != 6_000 {
		t.Fatalf("refund payout = %v, want principal 5000 + stake 1000", resp["payout"])
	}

	status, resp = f.post(t, "/v1/contracts/c1/positions/alice/0/refund", nil)
	if status != http.StatusConflict || resp["error"].(string) != "ALREADY_REFUNDED" {
		t.Fatalf("second refund = %d (%v), want 409 ALREADY_REFUNDED", status, resp)
	}
}

func TestCreateContractFromPreset(t *testing.T) {
	f := newAPIFixture(t)

	status, resp := f.get(t, "/v1/presets")
	if status != http.StatusOK {
		t.Fatalf("list presets = %d (%v)", status, resp)
	}
	if len(resp["presets"].([]interface{})) == 0 {
		t.Fatal("expected at least one preset")
	}

	created := f.mustPost(t, "/v1/contracts", map[string]interface{}{
		"owner":  "owner",
		"preset": "hourly-open",
	}, http.StatusCreated)
	if created["variant"].(string) != "open" {
		t.Fatalf("variant = %v, want open", created["variant"])
	}
	if created["cycle_length_ms"].(float64) != float64(time.Hour.Milliseconds()) {
		t.Fatalf("cycle_length_ms = %v, want one hour", created["cycle_length_ms"])
	}

	status, resp = f.post(t, "/v1/contracts", map[string]interface{}{
		"owner":  "owner",
		"preset": "no-such-preset",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("unknown preset = %d (%v), want 400", status, resp)
	}
}

func TestSplitTransferAndDistributeOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.createOpenContract(t)
	f.fund(t, "alice", 30_000)
	f.fund(t, "funder", 2_000)

	f.mustPost(t, "/v1/contracts/c1/contributions", map[string]interface{}{
		"contributor": "alice", "amount": 30_000,
	}, http.StatusCreated)

	resp := f.mustPost(t, "/v1/contracts/c1/positions/alice/0/split", map[string]interface{}{
		"num_splits": 3, "amount_per_split": 10_000,
	}, http.StatusOK)
	if got := len(resp["indices"].([]interface{})); got != 3 {
		t.Fatalf("split indices = %d, want 3", got)
	}

	resp = f.mustPost(t, "/v1/contracts/c1/positions/alice/1/transfer", map[string]interface{}{
		"to": "bob",
	}, http.StatusOK)
	if resp["index"].(float64) != 0 {
		t.Fatalf("transfer index = %v, want 0", resp["index"])
	}

	status, listing := f.get(t, "/v1/contracts/c1/positions/bob")
	if status != http.StatusOK {
		t.Fatalf("list positions = %d (%v)", status, listing)
	}
	slots := listing["positions"].([]interface{})
	if len(slots) != 1 {
		t.Fatalf("bob slots = %d, want 1", len(slots))
	}
	slot := slots[0].(map[string]interface{})
	if slot["contribution_remaining"].(float64) != 10_000 || slot["live"].(bool) != true {
		t.Fatalf("bob slot = %v, want live 10000", slot)
	}

	// External fee pools need shares outstanding in a non-opening cycle.
	f.advance(2 * time.Hour)
	f.mustPost(t, "/v1/contracts/c1/distributions", map[string]interface{}{
		"funder": "funder", "amount": 2_000,
	}, http.StatusOK)

	status, resp = f.get(t, "/v1/token/balances/c1")
	if status != http.StatusOK || resp["balance"].(float64) != 32_000 {
		t.Fatalf("contract balance = %d (%v), want 32000", status, resp)
	}
}
