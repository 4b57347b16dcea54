package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"SynthVault/internal/engine"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/registry"
	"SynthVault/internal/server"
	"SynthVault/internal/token"
)

func e18(n uint64) string {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000)).Dec()
}

func newTestServer(t *testing.T) (*httptest.Server, *token.Bank, uuid.UUID) {
	t.Helper()

	reg, err := registry.New([]registry.Entry{{Symbol: "WETH", FeedID: "eth-usd"}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	prices := oracle.NewStatic()
	prices.Set("eth-usd", 2000_0000_0000)

	bank := token.NewBank()
	vault := uuid.New()
	eng := engine.New(engine.Config{
		Registry:  reg,
		Prices:    prices,
		Custody:   bank,
		Liability: token.NewSynth(),
		Vault:     vault,
		Logger:    zerolog.Nop(),
	})

	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := server.New(eng, nil, health, zerolog.Nop(), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, bank, vault
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDepositThenAccount(t *testing.T) {
	ts, bank, _ := newTestServer(t)
	user := uuid.New()
	bank.Credit("WETH", user, uint256.MustFromDecimal(e18(10)))

	resp := postJSON(t, ts.URL+"/v1/deposit", map[string]string{
		"user": user.String(), "asset": "WETH", "amount": e18(10),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status: got %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/v1/accounts/" + user.String())
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	defer resp2.Body.Close()

	var account map[string]string
	if err := json.NewDecoder(resp2.Body).Decode(&account); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if account["collateral_usd"] != e18(20_000) {
		t.Errorf("collateral usd: got %s, want %s", account["collateral_usd"], e18(20_000))
	}
	if account["minted"] != "0" {
		t.Errorf("minted: got %s, want 0", account["minted"])
	}
}

func TestStatusMapping(t *testing.T) {
	ts, bank, _ := newTestServer(t)
	user := uuid.New()
	bank.Credit("WETH", user, uint256.MustFromDecimal(e18(10)))

	cases := []struct {
		name string
		path string
		body map[string]string
		want int
	}{
		{
			name: "zero amount",
			path: "/v1/deposit",
			body: map[string]string{"user": user.String(), "asset": "WETH", "amount": "0"},
			want: http.StatusBadRequest,
		},
		{
			name: "unregistered asset",
			path: "/v1/deposit",
			body: map[string]string{"user": user.String(), "asset": "DOGE", "amount": e18(1)},
			want: http.StatusBadRequest,
		},
		{
			name: "malformed user",
			path: "/v1/mint",
			body: map[string]string{"user": "nope", "amount": e18(1)},
			want: http.StatusBadRequest,
		},
		{
			name: "insufficient collateral",
			path: "/v1/redeem",
			body: map[string]string{"user": user.String(), "asset": "WETH", "amount": e18(1)},
			want: http.StatusConflict,
		},
		{
			name: "mint without collateral",
			path: "/v1/mint",
			body: map[string]string{"user": uuid.NewString(), "amount": e18(100)},
			want: http.StatusUnprocessableEntity,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+tc.path, tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestRiskRejectionCarriesFactor(t *testing.T) {
	ts, bank, _ := newTestServer(t)
	user := uuid.New()
	bank.Credit("WETH", user, uint256.MustFromDecimal(e18(10)))
	postJSON(t, ts.URL+"/v1/deposit", map[string]string{
		"user": user.String(), "asset": "WETH", "amount": e18(10),
	})

	resp := postJSON(t, ts.URL+"/v1/mint", map[string]string{
		"user": user.String(), "amount": e18(10_001),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["health_factor"] == "" {
		t.Error("risk rejection should include the offending health factor")
	}
}

func TestUsdValueQuote(t *testing.T) {
	ts, _, _ := newTestServer(t)

	url := fmt.Sprintf("%s/v1/assets/WETH/value?amount=%s", ts.URL, e18(15))
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["usd_value"] != e18(30_000) {
		t.Errorf("usd value: got %s, want %s", body["usd_value"], e18(30_000))
	}
}

// Exercises GETs racing POSTs; run with -race to make book access
// violations fatal.
func TestConcurrentReadsDuringMutations(t *testing.T) {
	ts, bank, _ := newTestServer(t)
	user := uuid.New()
	bank.Credit("WETH", user, uint256.MustFromDecimal(e18(1_000)))

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)

	depositBody, err := json.Marshal(map[string]string{
		"user": user.String(), "asset": "WETH", "amount": e18(1),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			resp, err := http.Post(ts.URL+"/v1/deposit", "application/json", bytes.NewReader(depositBody))
			if err != nil {
				t.Errorf("deposit %d: %v", i, err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("deposit %d: got %d, want 200", i, resp.StatusCode)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			resp, err := http.Get(ts.URL + "/v1/accounts/" + user.String() + "/collateral/WETH")
			if err != nil {
				t.Errorf("get collateral %d: %v", i, err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("get collateral %d: got %d, want 200", i, resp.StatusCode)
				return
			}
		}
	}()

	wg.Wait()

	resp, err := http.Get(ts.URL + "/v1/accounts/" + user.String() + "/collateral/WETH")
	if err != nil {
		t.Fatalf("final read: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["balance"] != e18(rounds) {
		t.Errorf("balance: got %s, want %s", body["balance"], e18(rounds))
	}
}

func TestReadyz(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", resp.StatusCode)
	}
}
