package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/poco/internal/app/poco"
	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/health"
	"github.com/tutu-network/poco/internal/infra/clock"
	"github.com/tutu-network/poco/internal/testutil"
)

const adminToken = "s3cret"

type apiFixture struct {
	*testutil.World
	engine *poco.Engine
	clock  *clock.Manual
	srv    *httptest.Server
}

func newTestServer(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	w := testutil.NewWorld(t)
	clk := clock.NewManual(testutil.Start)
	e, err := poco.New(poco.Config{
		Store:      w.Store,
		Clock:      clk,
		Hasher:     w.Hasher,
		Assets:     w.Registry,
		Categories: w.Registry,
		Groups:     w.Registry,
		Signatures: w.Registry,
		Policy:     w.Policy,
	})
	require.NoError(t, err)

	s := NewServer(e, opts)
	s.EnableMetrics()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		e.Close()
	})
	return &apiFixture{World: w, engine: e, clock: clk, srv: srv}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// matched funds the parties and matches the default orders over HTTP.
func (f *apiFixture) matched(t *testing.T) common.Hash {
	t.Helper()
	f.Fund(t, f.Requester.Address(), 10_000_000_000)
	f.Fund(t, f.WorkerpoolOwner.Address(), 10_000_000_000)
	set := f.Orders(t, testutil.DefaultTerms())

	resp, out := f.do(t, http.MethodPost, "/v1/match", "", set)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	return common.HexToHash(out["deal_id"].(string))
}

func errorType(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	s, _ := e["type"].(string)
	return s
}

// ─── Reads ──────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	f := newTestServer(t, Options{})
	resp, out := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
}

func TestHealth_Degraded(t *testing.T) {
	checker := health.NewChecker(nil, health.InvariantCheck(func(context.Context) error {
		return domain.ErrInvariantBroken
	}))
	checker.RunOnce(context.Background())

	f := newTestServer(t, Options{Health: checker})
	resp, out := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", out["status"])
}

func TestAccount(t *testing.T) {
	f := newTestServer(t, Options{})
	f.Fund(t, f.Requester.Address(), 42)

	resp, out := f.do(t, http.MethodGet, "/v1/accounts/"+f.Requester.Address().Hex(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 42, out["available"])

	resp, _ = f.do(t, http.MethodGet, "/v1/accounts/not-an-address", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestKitty(t *testing.T) {
	f := newTestServer(t, Options{})
	resp, out := f.do(t, http.MethodGet, "/v1/kitty", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, f.Policy.KittyAddress.Hex(), common.HexToAddress(out["address"].(string)).Hex())
}

func TestDeal_NotFound(t *testing.T) {
	f := newTestServer(t, Options{})
	resp, out := f.do(t, http.MethodGet, "/v1/deals/"+common.HexToHash("0xdead").Hex(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "addressing", errorType(out))

	resp, _ = f.do(t, http.MethodGet, "/v1/deals/0x1234", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestMatchPushLifecycle(t *testing.T) {
	f := newTestServer(t, Options{})
	dealID := f.matched(t)

	resp, deal := f.do(t, http.MethodGet, "/v1/deals/"+dealID.Hex(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, deal["bot_size"])

	resp, task := f.do(t, http.MethodGet, "/v1/deals/"+dealID.Hex()+"/tasks/0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.TaskUnset), task["status"])

	taskID := domain.TaskID(dealID, 0)
	resp, _ = f.do(t, http.MethodGet, "/v1/tasks/"+taskID.Hex(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, task = f.do(t, http.MethodPost, "/v1/deals/"+dealID.Hex()+"/tasks/0/result", "", pushResultRequest{
		Worker:        f.Worker.Address(),
		Results:       hexutil.Bytes("ipfs://result"),
		Authorization: f.Contribution(t, taskID, common.Address{}),
		WorkerSign:    f.ResultSign(t, taskID, []byte("ipfs://result")),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, task)
	assert.Equal(t, string(domain.TaskCompleted), task["status"])

	resp, task = f.do(t, http.MethodGet, "/v1/tasks/"+taskID.Hex(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, f.Worker.Address().Hex(), common.HexToAddress(task["worker"].(string)).Hex())

	// second push on the same task
	resp, out := f.do(t, http.MethodPost, "/v1/deals/"+dealID.Hex()+"/tasks/0/result", "", pushResultRequest{
		Worker:        f.Worker.Address(),
		Results:       hexutil.Bytes("again"),
		Authorization: f.Contribution(t, taskID, common.Address{}),
		WorkerSign:    f.ResultSign(t, taskID, []byte("again")),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "state", errorType(out))

	resp, out = f.do(t, http.MethodGet, "/v1/events?limit=1000", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, out["events"])

	require.NoError(t, f.engine.CheckInvariants(context.Background()))
}

func TestPushResult_BadAuthorization(t *testing.T) {
	f := newTestServer(t, Options{})
	dealID := f.matched(t)

	resp, out := f.do(t, http.MethodPost, "/v1/deals/"+dealID.Hex()+"/tasks/1/result", "", pushResultRequest{
		Worker:        f.Worker.Address(),
		Results:       hexutil.Bytes("r"),
		Authorization: f.Contribution(t, domain.TaskID(dealID, 0), common.Address{}),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "authentication", errorType(out))
}

func TestPushResult_OnlyWorkerSettles(t *testing.T) {
	f := newTestServer(t, Options{})
	dealID := f.matched(t)
	taskID := domain.TaskID(dealID, 0)
	path := "/v1/deals/" + dealID.Hex() + "/tasks/0/result"

	// A valid contribution authorization with a result the worker never signed.
	resp, out := f.do(t, http.MethodPost, path, "", pushResultRequest{
		Worker:        f.Worker.Address(),
		Results:       hexutil.Bytes("forged by a third party"),
		Authorization: f.Contribution(t, taskID, common.Address{}),
		WorkerSign:    f.ResultSign(t, taskID, []byte("ipfs://result")),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "authentication", errorType(out))

	resp, task := f.do(t, http.MethodGet, "/v1/deals/"+dealID.Hex()+"/tasks/0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.TaskUnset), task["status"])
}

func TestClaim(t *testing.T) {
	f := newTestServer(t, Options{})
	dealID := f.matched(t)
	path := "/v1/deals/" + dealID.Hex() + "/tasks/1/claim"

	resp, out := f.do(t, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "state", errorType(out))

	d, err := f.engine.Deal(context.Background(), dealID)
	require.NoError(t, err)
	f.clock.Set(d.Deadline)

	resp, task := f.do(t, http.MethodPost, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, task)
	assert.Equal(t, string(domain.TaskFailed), task["status"])

	resp, _ = f.do(t, http.MethodPost, "/v1/deals/"+dealID.Hex()+"/tasks/7/claim", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMatch_Incompatible(t *testing.T) {
	f := newTestServer(t, Options{})
	f.Fund(t, f.Requester.Address(), 10_000_000_000)
	terms := testutil.DefaultTerms()
	set := f.Orders(t, terms)
	set.Request.AppMaxPrice = terms.AppPrice - 1
	f.Sign(t, set)

	resp, out := f.do(t, http.MethodPost, "/v1/match", "", set)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "compatibility", errorType(out))
}

func TestMatch_BadBody(t *testing.T) {
	f := newTestServer(t, Options{})
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/match", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── Admin ──────────────────────────────────────────────────────────────────

func TestAdmin_TokenRequired(t *testing.T) {
	f := newTestServer(t, Options{AdminToken: adminToken})
	path := "/v1/accounts/" + f.Requester.Address().Hex() + "/deposit"
	body := amountRequest{Amount: 500}

	resp, _ := f.do(t, http.MethodPost, path, "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, path, "wrong", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out := f.do(t, http.MethodPost, path, adminToken, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 500, out["available"])

	resp, out = f.do(t, http.MethodPost, "/v1/accounts/"+f.Requester.Address().Hex()+"/withdraw", adminToken, amountRequest{Amount: 501})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "resource", errorType(out))
}

func TestAdmin_Disabled(t *testing.T) {
	f := newTestServer(t, Options{})
	resp, _ := f.do(t, http.MethodPost, "/v1/accounts/"+f.Requester.Address().Hex()+"/deposit", "anything", amountRequest{Amount: 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdmin_SponsorMatch(t *testing.T) {
	f := newTestServer(t, Options{AdminToken: adminToken})
	sponsor := common.HexToAddress("0x5905")
	f.Fund(t, sponsor, 10_000_000_000)
	f.Fund(t, f.WorkerpoolOwner.Address(), 10_000_000_000)
	set := f.Orders(t, testutil.DefaultTerms())

	resp, out := f.do(t, http.MethodPost, "/v1/sponsor-match", adminToken, sponsorMatchRequest{Sponsor: sponsor, OrderSet: *set})
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)

	d, err := f.engine.Deal(context.Background(), common.HexToHash(out["deal_id"].(string)))
	require.NoError(t, err)
	assert.Equal(t, sponsor, d.Sponsor)
	assert.Equal(t, uint64(0), f.Account(t, f.Requester.Address()).Frozen)
}

func TestAdmin_ManageOrder(t *testing.T) {
	f := newTestServer(t, Options{AdminToken: adminToken})
	set := f.Orders(t, testutil.DefaultTerms())

	resp, out := f.do(t, http.MethodPost, "/v1/orders/manage", adminToken, manageOrderRequest{
		Caller: f.AppOwner.Address(),
		OrderOperationArgs: domain.OrderOperationArgs{
			Operation: domain.OpClose,
			Kind:      domain.KindApp,
			App:       &set.App,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	hash := f.Hasher.AppOrder(&set.App)
	assert.Equal(t, hash.Hex(), out["order_hash"])

	resp, out = f.do(t, http.MethodGet, "/v1/orders/"+hash.Hex()+"/consumed", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, set.App.Volume, out["consumed"])

	resp, out = f.do(t, http.MethodPost, "/v1/orders/manage", adminToken, manageOrderRequest{
		Caller: f.Requester.Address(),
		OrderOperationArgs: domain.OrderOperationArgs{
			Operation: domain.OpSign,
			Kind:      domain.KindApp,
			App:       &set.App,
		},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "authentication", errorType(out))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newTestServer(t, Options{})
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	f := newTestServer(t, Options{CORSOrigins: []string{"https://app.example"}})
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/v1/kitty", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
