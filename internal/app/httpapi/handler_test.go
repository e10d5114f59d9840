package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goalvault/goalvault/internal/app/auth"
	"github.com/goalvault/goalvault/internal/app/domain/deposit"
	"github.com/goalvault/goalvault/internal/app/events"
	"github.com/goalvault/goalvault/internal/app/services/deposits"
	"github.com/goalvault/goalvault/internal/app/services/goals"
	"github.com/goalvault/goalvault/internal/app/storage/memory"
	"github.com/goalvault/goalvault/internal/chain/evm"
	"github.com/goalvault/goalvault/internal/middleware"
)

const testAppID = "app-test"

var testChainID = big.NewInt(8453)

// chainStub backs the watcher and auto-confirms every broadcast.
type chainStub struct {
	mu       sync.Mutex
	head     uint64
	counter  int64
	receipts map[common.Hash]*types.Receipt
}

func newChainStub() *chainStub {
	return &chainStub{head: 10, receipts: make(map[common.Hash]*types.Receipt)}
}

func (c *chainStub) ChainID(context.Context) (*big.Int, error) { return testChainID, nil }

func (c *chainStub) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *chainStub) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (c *chainStub) SuggestGasPrice(context.Context) (*big.Int, error)              { return big.NewInt(1), nil }
func (c *chainStub) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error)  { return 21000, nil }
func (c *chainStub) SendTransaction(context.Context, *types.Transaction) error      { return nil }

func (c *chainStub) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

type stubWallet struct{ chain *chainStub }

func (w stubWallet) Address() common.Address { return common.HexToAddress("0xabc1") }
func (w stubWallet) ChainID() *big.Int       { return new(big.Int).Set(testChainID) }
func (w stubWallet) SwitchChain(context.Context, *big.Int) error {
	return evm.ErrRejected
}

func (w stubWallet) SendContractCall(context.Context, common.Address, []byte) (common.Hash, error) {
	w.chain.mu.Lock()
	defer w.chain.mu.Unlock()
	w.chain.counter++
	hash := common.BigToHash(big.NewInt(w.chain.counter))
	w.chain.head++
	w.chain.receipts[hash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: new(big.Int).SetUint64(w.chain.head),
	}
	return hash, nil
}

type testServer struct {
	srv   *httptest.Server
	key   *ecdsa.PrivateKey
	store *memory.Store
	orch  *deposits.Orchestrator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	verifier, err := auth.NewVerifier(pemKey, testAppID, "")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	store := memory.New()
	chain := newChainStub()
	watcher := evm.NewWatcher(chain, 1, time.Millisecond)
	hub := events.NewHub()
	goalSvc := goals.New(store, nil)
	orch := deposits.NewOrchestrator(deposits.Config{
		ChainID:        testChainID,
		TokenAddress:   common.HexToAddress("0x0000000000000000000000000000000000000001"),
		VaultAddress:   common.HexToAddress("0x0000000000000000000000000000000000000002"),
		ConfirmTimeout: time.Second,
	}, goalSvc, store, stubWallet{chain}, watcher, hub, nil)
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("start orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Stop(ctx)
	})

	stream := NewStreamHandler(hub, orch, nil)
	api := NewHandler(goalSvc, orch, stream)
	authn := middleware.NewAuthenticator(verifier, nil)
	srv := httptest.NewServer(authn.Handler(api))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, key: key, store: store, orch: orch}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    auth.DefaultIssuer,
		Audience:  jwt.ClaimStrings{testAppID},
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(ts.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createGoalPayload(title string) map[string]interface{} {
	return map[string]interface{}{
		"title":         title,
		"target_amount": int64(1000),
		"vault_address": "0x00000000000000000000000000000000000000aa",
	}
}

func TestRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/goals", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/goals", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus token, got %d", resp.StatusCode)
	}
}

func TestGoalLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/goals", "alice", createGoalPayload("Vacation"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID              string `json:"id"`
		Title           string `json:"title"`
		RemainingAmount int64  `json:"remaining_amount"`
	}
	decodeBody(t, resp, &created)
	if created.ID == "" || created.Title != "Vacation" {
		t.Fatalf("unexpected goal: %+v", created)
	}
	if created.RemainingAmount != 1000 {
		t.Fatalf("expected remaining 1000, got %d", created.RemainingAmount)
	}

	// Duplicate title for the same user conflicts.
	resp = ts.do(t, http.MethodPost, "/goals", "alice", createGoalPayload("vacation"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// Listing is scoped to the caller.
	resp = ts.do(t, http.MethodGet, "/goals", "alice", nil)
	var list []json.RawMessage
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 goal, got %d", len(list))
	}
	resp = ts.do(t, http.MethodGet, "/goals", "bob", nil)
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("bob must not see alice's goals")
	}

	// Fetching a foreign goal is forbidden, a missing one is not found.
	resp = ts.do(t, http.MethodGet, "/goals/"+created.ID, "bob", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/goals/does-not-exist", "alice", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateGoalValidation(t *testing.T) {
	ts := newTestServer(t)

	bad := []map[string]interface{}{
		{"title": "", "target_amount": int64(100), "vault_address": "0xaa"},
		{"title": "ok", "target_amount": int64(0), "vault_address": "0xaa"},
		{"title": "ok", "target_amount": int64(100), "vault_address": ""},
		{"title": "ok", "target_amount": int64(100), "vault_address": "0xaa", "bogus": true},
	}
	for i, payload := range bad {
		resp := ts.do(t, http.MethodPost, "/goals", "alice", payload)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, resp.StatusCode)
		}
	}
}

func TestFundingUpdate(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/goals", "alice", createGoalPayload("House"))
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	fund := map[string]interface{}{
		"goal_id":          created.ID,
		"deposited_amount": int64(250),
		"tx_hash":          "0xdeadbeef",
	}
	resp = ts.do(t, http.MethodPost, "/goals/funding", "alice", fund)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var funded struct {
		CurrentFunded int64 `json:"current_funded_amount"`
		Applied       bool  `json:"applied"`
	}
	decodeBody(t, resp, &funded)
	if !funded.Applied || funded.CurrentFunded != 250 {
		t.Fatalf("expected applied 250, got %+v", funded)
	}

	// Replaying the same transaction hash changes nothing.
	resp = ts.do(t, http.MethodPost, "/goals/funding", "alice", fund)
	decodeBody(t, resp, &funded)
	if funded.Applied {
		t.Fatalf("replay must not apply")
	}
	if funded.CurrentFunded != 250 {
		t.Fatalf("replay changed the ledger: %d", funded.CurrentFunded)
	}

	// Foreign goals and bad amounts are rejected.
	resp = ts.do(t, http.MethodPost, "/goals/funding", "bob", fund)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPost, "/goals/funding", "alice", map[string]interface{}{
		"goal_id": created.ID, "deposited_amount": int64(0),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPost, "/goals/funding", "alice", map[string]interface{}{
		"goal_id": "missing", "deposited_amount": int64(10),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// The credit history lists the applied funding, once, owner-only.
	resp = ts.do(t, http.MethodGet, "/goals/"+created.ID+"/credits", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var credits []struct {
		Amount int64  `json:"amount"`
		TxHash string `json:"tx_hash"`
	}
	decodeBody(t, resp, &credits)
	if len(credits) != 1 {
		t.Fatalf("expected 1 credit after the replay, got %d", len(credits))
	}
	if credits[0].Amount != 250 || credits[0].TxHash != "0xdeadbeef" {
		t.Fatalf("unexpected credit: %+v", credits[0])
	}

	resp = ts.do(t, http.MethodGet, "/goals/"+created.ID+"/credits", "bob", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestDepositFlow(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/goals", "alice", createGoalPayload("Car"))
	var g struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &g)

	resp = ts.do(t, http.MethodPost, "/deposits", "alice", map[string]interface{}{
		"goal_id": g.ID,
		"amount":  int64(400),
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var att deposit.Attempt
	decodeBody(t, resp, &att)
	if att.ID == "" {
		t.Fatalf("expected attempt id")
	}

	// Poll until the workflow settles.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = ts.do(t, http.MethodGet, "/deposits/"+att.ID, "alice", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		decodeBody(t, resp, &att)
		if att.State.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("deposit never settled, state %q", att.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if att.State != deposit.StateSettled {
		t.Fatalf("expected settled, got %q (%s)", att.State, att.FailureDetail)
	}

	// The ledger reflects the settled deposit.
	resp = ts.do(t, http.MethodGet, "/goals/"+g.ID, "alice", nil)
	var funded struct {
		CurrentFunded int64 `json:"current_funded_amount"`
	}
	decodeBody(t, resp, &funded)
	if funded.CurrentFunded != 400 {
		t.Fatalf("expected funded 400, got %d", funded.CurrentFunded)
	}

	// Other users cannot see the attempt.
	resp = ts.do(t, http.MethodGet, "/deposits/"+att.ID, "bob", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/deposits", "alice", nil)
	var mine []deposit.Attempt
	decodeBody(t, resp, &mine)
	if len(mine) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(mine))
	}
}

func TestDepositValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/goals", "alice", createGoalPayload("Boat"))
	var g struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &g)

	cases := []map[string]interface{}{
		{"goal_id": g.ID, "amount": int64(0)},
		{"goal_id": g.ID, "amount": int64(-5)},
		{"goal_id": g.ID, "amount": int64(1001)}, // over capacity
		{"amount": int64(10)},                    // neither goal_id nor new_goal
	}
	for i, payload := range cases {
		resp := ts.do(t, http.MethodPost, "/deposits", "alice", payload)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, resp.StatusCode)
		}
	}

	resp = ts.do(t, http.MethodPost, "/deposits", "alice", map[string]interface{}{
		"goal_id": "missing", "amount": int64(10),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing goal, got %d", resp.StatusCode)
	}
}

func TestErrorBodyShape(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/goals/missing", "alice", nil)
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] == "" {
		t.Fatalf(`expected {"error": ...} body, got %v`, body)
	}
}

func TestDaysLeft(t *testing.T) {
	ts := newTestServer(t)

	payload := createGoalPayload("Deadline goal")
	payload["end_date"] = time.Now().Add(72 * time.Hour).Format(time.RFC3339)
	resp := ts.do(t, http.MethodPost, "/goals", "alice", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		DaysLeft *int `json:"days_left"`
		Expired  bool `json:"expired"`
	}
	decodeBody(t, resp, &created)
	if created.DaysLeft == nil {
		t.Fatalf("expected days_left for a goal with an end date")
	}
	if *created.DaysLeft < 2 || *created.DaysLeft > 3 {
		t.Fatalf("expected roughly 3 days left, got %d", *created.DaysLeft)
	}
	if created.Expired {
		t.Fatalf("future end date must not read as expired")
	}

	payload = createGoalPayload("Past deadline goal")
	payload["end_date"] = time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	resp = ts.do(t, http.MethodPost, "/goals", "alice", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &created)
	if !created.Expired {
		t.Fatalf("past end date must read as expired")
	}
	if created.DaysLeft == nil || *created.DaysLeft != 0 {
		t.Fatalf("expired goal must report zero days left")
	}
}
