package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cfgTypes "github.com/0xPolygonHermez/zkevm-txqueue/config/types"
	"github.com/0xPolygonHermez/zkevm-txqueue/event"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	mock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func NewMockConfig() Config {
	return Config{
		Host:                      "0.0.0.0",
		Port:                      8123,
		ReadTimeout:               cfgTypes.NewDuration(time.Second * 60),
		WriteTimeout:              cfgTypes.NewDuration(time.Second * 60),
		MaxRequestsPerIPAndSecond: 100,
		BatchRequestsEnabled:      true,
		BatchRequestsLimit:        2,
		EnableWebSocket:           true,
	}
}

func TestEnqueue(t *testing.T) {
	mockPool := &poolMock{}
	cfg := NewMockConfig()
	endpoints := NewEndpoints(cfg, mockPool, &recoveryMock{})

	to := common.HexToAddress("0x2")
	req := types.TxRequest{
		From:    common.HexToAddress("0x1").Hex(),
		ChainID: 1,
		Payload: types.TxPayload{To: &to, GasLimit: 21000, GasPrice: big.NewInt(1)},
	}

	type testCase struct {
		Name           string
		SetupMocks     func()
		ExpectedResult interface{}
		ExpectedError  Error
	}

	testCases := []testCase{
		{
			Name: "Enqueue tx successfully",
			SetupMocks: func() {
				mockPool.On("Enqueue", mock.Anything, req).Return("tx-1", nil).Once()
			},
			ExpectedResult: "tx-1",
		},
		{
			Name: "Enqueue invalid tx",
			SetupMocks: func() {
				mockPool.On("Enqueue", mock.Anything, req).Return("", fmt.Errorf("%w: missing gas limit", types.ErrInvalidRequest)).Once()
			},
			ExpectedError: NewServerErrorWithData(InvalidParamsErrorCode, "invalid transaction request: missing gas limit", nil),
		},
		{
			Name: "Enqueue fails",
			SetupMocks: func() {
				mockPool.On("Enqueue", mock.Anything, req).Return("", errors.New("boom")).Once()
			},
			ExpectedError: NewServerErrorWithData(DefaultErrorCode, "boom", nil),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			tc.SetupMocks()

			result, err := endpoints.Enqueue(nil, req)
			if tc.ExpectedError != nil {
				assert.Equal(t, tc.ExpectedError, err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tc.ExpectedResult, result)
		})
	}
	mockPool.AssertExpectations(t)
}

func TestCancelAndQueries(t *testing.T) {
	mockPool := &poolMock{}
	endpoints := NewEndpoints(NewMockConfig(), mockPool, &recoveryMock{})

	mockPool.On("Cancel", mock.Anything, "tx-1").Return(true, nil).Once()
	mockPool.On("Cancel", mock.Anything, "tx-2").Return(false, fmt.Errorf("%w: tx tx-2 is submitted", types.ErrNotCancellable)).Once()
	mockPool.On("Get", "missing").Return(nil, fmt.Errorf("%w: tx missing", types.ErrNotFound)).Once()
	mockPool.On("ListByStatus", types.TxStatusQueued).Return([]*types.QueuedTransaction{{ID: "tx-3"}}).Once()

	result, err := endpoints.Cancel(nil, "tx-1")
	require.Nil(t, err)
	assert.Equal(t, true, result)

	_, err = endpoints.Cancel(nil, "tx-2")
	require.NotNil(t, err)
	assert.Equal(t, InvalidStateErrorCode, err.ErrorCode())

	_, err = endpoints.GetTransaction("missing")
	require.NotNil(t, err)
	assert.Equal(t, TxNotFoundErrorCode, err.ErrorCode())

	result, err = endpoints.ListByStatus(types.TxStatusQueued)
	require.Nil(t, err)
	assert.Len(t, result, 1)

	_, err = endpoints.ListByStatus("unknown")
	require.NotNil(t, err)
	assert.Equal(t, InvalidParamsErrorCode, err.ErrorCode())

	_, err = endpoints.ListByAddress("not an address")
	require.NotNil(t, err)
	assert.Equal(t, InvalidParamsErrorCode, err.ErrorCode())

	mockPool.AssertExpectations(t)
}

func TestRecoverEndpoints(t *testing.T) {
	mockRecovery := &recoveryMock{}
	endpoints := NewEndpoints(NewMockConfig(), &poolMock{}, mockRecovery)

	bumpFee := types.StrategyBumpFee
	mockRecovery.On("Recover", mock.Anything, "tx-1", types.StrategyType("")).Return("tx-2", nil).Once()
	mockRecovery.On("Recover", mock.Anything, "tx-1", types.StrategyBumpFee).Return("", fmt.Errorf("%w: tx-1", types.ErrRecoveryInProgress)).Once()
	mockRecovery.On("Report", mock.Anything, "tx-3", "nonce too low").Return(&types.FailedTransaction{Key: "tx-3", FailureReason: types.FailureNonceConflict}, nil).Once()

	result, err := endpoints.Recover(nil, "tx-1", nil)
	require.Nil(t, err)
	assert.Equal(t, "tx-2", result)

	_, err = endpoints.Recover(nil, "tx-1", &bumpFee)
	require.NotNil(t, err)
	assert.Equal(t, RecoveryErrorCode, err.ErrorCode())

	result, err = endpoints.Report(nil, "tx-3", "nonce too low")
	require.Nil(t, err)
	assert.Equal(t, types.FailureNonceConflict, result.(*types.FailedTransaction).FailureReason)

	_, err = endpoints.Report(nil, "tx-3", "")
	require.NotNil(t, err)
	assert.Equal(t, InvalidParamsErrorCode, err.ErrorCode())

	mockRecovery.AssertExpectations(t)
}

func doRequest(t *testing.T, url string, body string) (*http.Response, []byte) {
	res, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer res.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, buf.Bytes()
}

func TestServerHandle(t *testing.T) {
	mockPool := &poolMock{}
	mockRecovery := &recoveryMock{}
	s := NewServer(NewMockConfig(), mockPool, mockRecovery, nil)
	httpServer := httptest.NewServer(s.newMux())
	defer httpServer.Close()

	mockPool.On("Stats").Return(types.QueueStats{Total: 3}).Once()
	mockPool.On("Enqueue", mock.Anything, mock.MatchedBy(func(req types.TxRequest) bool {
		return req.Priority == types.PriorityHigh && req.Payload.GasLimit == 21000 && len(req.Payload.Data) == 2
	})).Return("tx-1", nil).Once()
	mockRecovery.On("List").Return([]*types.FailedTransaction{}).Once()

	type testCase struct {
		Name           string
		Body           string
		ExpectedResult string
		ExpectedCode   int
	}

	testCases := []testCase{
		{
			Name:           "stats",
			Body:           `{"jsonrpc":"2.0","id":1,"method":"txq_stats","params":[]}`,
			ExpectedResult: `"total":3`,
		},
		{
			Name:           "enqueue",
			Body:           `{"jsonrpc":"2.0","id":2,"method":"txq_enqueue","params":[{"from":"0x0000000000000000000000000000000000000001","chainId":1,"priority":"high","payload":{"to":"0x0000000000000000000000000000000000000002","gasLimit":21000,"gasPrice":1,"data":"0x0102"}}]}`,
			ExpectedResult: `"tx-1"`,
		},
		{
			Name:           "params omitted",
			Body:           `{"jsonrpc":"2.0","id":3,"method":"txq_listFailedTransactions"}`,
			ExpectedResult: `[]`,
		},
		{
			Name:         "unknown namespace",
			Body:         `{"jsonrpc":"2.0","id":4,"method":"eth_stats","params":[]}`,
			ExpectedCode: NotFoundErrorCode,
		},
		{
			Name:         "missing required param",
			Body:         `{"jsonrpc":"2.0","id":6,"method":"txq_getTransaction","params":[]}`,
			ExpectedCode: InvalidParamsErrorCode,
		},
		{
			Name:         "params not an array",
			Body:         `{"jsonrpc":"2.0","id":7,"method":"txq_getTransaction","params":{"id":"tx-1"}}`,
			ExpectedCode: InvalidParamsErrorCode,
		},
		{
			Name:         "too many params",
			Body:         `{"jsonrpc":"2.0","id":5,"method":"txq_cancel","params":["a","b"]}`,
			ExpectedCode: InvalidParamsErrorCode,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			res, body := doRequest(t, httpServer.URL, tc.Body)
			require.Equal(t, http.StatusOK, res.StatusCode)

			var response Response
			require.NoError(t, json.Unmarshal(body, &response))
			if tc.ExpectedCode != 0 {
				require.NotNil(t, response.Error)
				assert.Equal(t, tc.ExpectedCode, response.Error.Code)
				return
			}
			require.Nil(t, response.Error)
			assert.Contains(t, string(response.Result), tc.ExpectedResult)
		})
	}

	mockPool.AssertExpectations(t)
	mockRecovery.AssertExpectations(t)
}

func TestServerBatchLimit(t *testing.T) {
	mockPool := &poolMock{}
	s := NewServer(NewMockConfig(), mockPool, &recoveryMock{}, nil)
	httpServer := httptest.NewServer(s.newMux())
	defer httpServer.Close()

	mockPool.On("Stats").Return(types.QueueStats{}).Twice()

	request := `{"jsonrpc":"2.0","id":1,"method":"txq_stats","params":[]}`
	res, body := doRequest(t, httpServer.URL, "["+request+","+request+"]")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var responses []Response
	require.NoError(t, json.Unmarshal(body, &responses))
	assert.Len(t, responses, 2)

	res, _ = doRequest(t, httpServer.URL, "["+strings.Repeat(request+",", 2)+request+"]")
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	mockPool.AssertExpectations(t)
}

func TestServerHealth(t *testing.T) {
	mockPool := &poolMock{}
	s := NewServer(NewMockConfig(), mockPool, &recoveryMock{}, nil)
	httpServer := httptest.NewServer(s.newMux())
	defer httpServer.Close()

	mockPool.On("Stats").Return(types.QueueStats{Total: 2, InFlight: 1}).Once()

	res, err := http.Get(httpServer.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var status struct {
		Name  string           `json:"name"`
		Queue types.QueueStats `json:"queue"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.Equal(t, serviceName, status.Name)
	assert.Equal(t, 2, status.Queue.Total)
	assert.Equal(t, 1, status.Queue.InFlight)

	req, err := http.NewRequest(http.MethodPut, httpServer.URL, nil)
	require.NoError(t, err)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	mockPool.AssertExpectations(t)
}

func TestServerInvalidRequests(t *testing.T) {
	s := NewServer(NewMockConfig(), &poolMock{}, &recoveryMock{}, nil)
	httpServer := httptest.NewServer(s.newMux())
	defer httpServer.Close()

	res, err := http.Post(httpServer.URL, "text/plain", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, res.StatusCode)

	res, _ = doRequest(t, httpServer.URL, `   `)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doRequest(t, httpServer.URL, `[]`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doRequest(t, httpServer.URL, `{"jsonrpc":`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

type notifyingBus struct {
	*event.Bus
	subscribed chan []types.EventType
}

func (b *notifyingBus) Subscribe(bufferSize int, eventTypes ...types.EventType) (<-chan types.Event, func()) {
	ch, unsubscribe := b.Bus.Subscribe(bufferSize, eventTypes...)
	b.subscribed <- eventTypes
	return ch, unsubscribe
}

func TestWebSocketEvents(t *testing.T) {
	bus := &notifyingBus{Bus: event.NewBus(), subscribed: make(chan []types.EventType, 1)}
	s := NewServer(NewMockConfig(), &poolMock{}, &recoveryMock{}, bus)
	httpServer := httptest.NewServer(s.newMux())
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + wsEndpoint + "?types=transaction_failed,recovery_started"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case eventTypes := <-bus.subscribed:
		assert.Equal(t, []types.EventType{types.EventTransactionFailed, types.EventRecoveryStarted}, eventTypes)
	case <-time.After(5 * time.Second):
		t.Fatal("websocket client not subscribed")
	}

	bus.Publish(types.Event{Type: types.EventTransactionAdded, Transaction: &types.QueuedTransaction{ID: "ignored"}})
	bus.Publish(types.Event{Type: types.EventTransactionFailed, Transaction: &types.QueuedTransaction{ID: "tx-1"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var received types.Event
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, types.EventTransactionFailed, received.Type)
	assert.Equal(t, "tx-1", received.Transaction.ID)
}
