package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"github.com/vadiminshakov/pandamarket/internal/events"
	"github.com/vadiminshakov/pandamarket/internal/services/custody"
	"github.com/vadiminshakov/pandamarket/internal/services/market"
	"github.com/vadiminshakov/pandamarket/internal/services/payout"
	"github.com/vadiminshakov/pandamarket/internal/services/royalty"
	"github.com/vadiminshakov/pandamarket/internal/storage/journal"
)

var (
	operator   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	marketAddr = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	seller     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	buyer      = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	creator    = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	pandas     = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

type testEnv struct {
	server *httptest.Server
	wallet *payout.Wallet
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry, err := custody.NewRegistry(nil, nil)
	require.NoError(t, err)
	key := domain.NewAssetKey(pandas, uint256.NewInt(0))
	require.NoError(t, registry.Register(key, seller))
	require.NoError(t, registry.Approve(key, seller, marketAddr))

	oracle, err := royalty.NewOracle(map[common.Address]royalty.Terms{
		pandas: {Receiver: creator, Rate: 1000},
	})
	require.NoError(t, err)

	wallet, err := payout.NewWallet(nil, nil)
	require.NoError(t, err)

	j, err := journal.NewWALStore(journal.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	broadcaster := events.NewBroadcaster(16)
	engine, err := market.NewEngine(market.Config{
		Operator: operator,
		Address:  marketAddr,
		FeeRate:  250,
	}, registry, oracle, wallet, nil, market.WithJournal(j), market.WithPublisher(broadcaster))
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer("", engine, j, broadcaster, nil).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, wallet: wallet}
}

func (e *testEnv) do(t *testing.T, method, path string, caller common.Address, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if caller != (common.Address{}) {
		req.Header.Set(AccountHeader, caller.Hex())
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestServer_ListBuyWithdraw(t *testing.T) {
	env := newTestEnv(t)
	path := "/listings/" + pandas.Hex() + "/0"

	resp, body := env.do(t, http.MethodPost, "/listings", seller,
		`{"collection":"`+pandas.Hex()+`","token_id":"0","price":"400"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "listed", body["type"])

	resp, body = env.do(t, http.MethodGet, path, common.Address{}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["listed"])
	assert.Equal(t, "400", body["price"])
	assert.Equal(t, seller.Hex(), body["seller"])

	resp, body = env.do(t, http.MethodPost, path+"/buy", buyer, `{"payment":"399"}`)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode, body)

	resp, body = env.do(t, http.MethodPost, path+"/buy", buyer, `{"payment":"400"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "350", body["seller_share"])
	assert.Equal(t, "40", body["royalty"])
	assert.Equal(t, "10", body["platform_fee"])

	resp, body = env.do(t, http.MethodGet, path, common.Address{}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["listed"])

	_, body = env.do(t, http.MethodGet, "/proceeds/"+seller.Hex(), common.Address{}, "")
	assert.Equal(t, "350", body["amount"])
	_, body = env.do(t, http.MethodGet, "/treasury", common.Address{}, "")
	assert.Equal(t, "10", body["amount"])

	resp, _ = env.do(t, http.MethodPost, "/treasury/withdrawals", seller, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/treasury/withdrawals", operator, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "10", body["amount"])
	assert.Equal(t, uint64(10), env.wallet.Balance(operator).Uint64())

	resp, body = env.do(t, http.MethodPost, "/withdrawals", seller, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, uint64(350), env.wallet.Balance(seller).Uint64())

	resp, _ = env.do(t, http.MethodPost, "/withdrawals", seller, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_UpdateAndCancel(t *testing.T) {
	env := newTestEnv(t)
	path := "/listings/" + pandas.Hex() + "/0"

	resp, _ := env.do(t, http.MethodPut, path, seller, `{"price":"500"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/listings", seller,
		`{"collection":"`+pandas.Hex()+`","token_id":"0","price":"400"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/listings", seller,
		`{"collection":"`+pandas.Hex()+`","token_id":"0","price":"400"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, path, buyer, `{"price":"500"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, path, seller, `{"price":"0"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := env.do(t, http.MethodPut, path, seller, `{"price":"500"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "500", body["price"])

	resp, _ = env.do(t, http.MethodDelete, path, seller, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/", common.Address{}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["listings"])
	assert.EqualValues(t, 250, body["fee_bps"])
}

func TestServer_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/listings", common.Address{}, `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/listings", seller, `{"collection":"panda","token_id":"0","price":"1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/listings", seller, `{"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/listings", buyer,
		`{"collection":"`+pandas.Hex()+`","token_id":"77","price":"1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/fee?price=abc", common.Address{}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Previews(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/fee?price=400", common.Address{}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10", body["fee"])

	resp, body = env.do(t, http.MethodGet, "/royalty/"+pandas.Hex()+"/0?price=400", common.Address{}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "40", body["royalty"])
	assert.Equal(t, creator.Hex(), body["receiver"])
}

func TestServer_EventStreamResumes(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/listings", seller,
		`{"collection":"`+pandas.Hex()+`","token_id":"0","price":"400"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPut, "/listings/"+pandas.Hex()+"/0", seller, `{"price":"500"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	stream, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(stream.Body)
	var ids []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
		if strings.HasPrefix(line, "data: ") && len(ids) == 1 {
			assert.Contains(t, line, `"price":"500"`)
			break
		}
	}
	assert.Equal(t, []string{"2"}, ids)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, uint64(5), parseLastEventID("5", "9"))
	assert.Equal(t, uint64(9), parseLastEventID("", "9"))
	assert.Equal(t, uint64(0), parseLastEventID("x", ""))
	assert.Equal(t, uint64(0), parseLastEventID("", ""))
}

func TestStatusOf_Unavailable(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(errors.Wrap(domain.ErrBusy, "waited 30s")))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(errors.Wrap(domain.ErrJournalFaulted, "disk full")))
	assert.Equal(t, http.StatusConflict, statusOf(domain.ErrReentrantCall))
}
