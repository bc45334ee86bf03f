package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// sorobanRPC is a JSON-RPC 2.0 client for Soroban RPC. Soroban methods take
// named parameters, which the go-ethereum rpc client cannot send.
type sorobanRPC struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
}

func newSorobanRPC(url string, httpClient *http.Client) *sorobanRPC {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &sorobanRPC{url: url, http: httpClient}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorObject `json:"error"`
}

type rpcErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcErrorObject) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, string(e.Data))
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func (r *sorobanRPC) call(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      r.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, string(raw))
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if out.Error != nil {
		return fmt.Errorf("%s: %w", method, out.Error)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(out.Result, result)
}

type simulateResult struct {
	TransactionData string `json:"transactionData"`
	MinResourceFee  string `json:"minResourceFee"`
	Error           string `json:"error,omitempty"`
	Results         []struct {
		Auth []string `json:"auth"`
		XDR  string   `json:"xdr"`
	} `json:"results"`
	LatestLedger uint32 `json:"latestLedger"`
}

type sendResult struct {
	Status         string `json:"status"`
	Hash           string `json:"hash"`
	ErrorResultXDR string `json:"errorResultXdr,omitempty"`
}

type getTransactionResult struct {
	Status        string `json:"status"`
	ResultXDR     string `json:"resultXdr,omitempty"`
	ResultMetaXDR string `json:"resultMetaXdr,omitempty"`
	Ledger        uint32 `json:"ledger,omitempty"`
}

type ledgerEntriesResult struct {
	Entries []struct {
		Key string `json:"key"`
		XDR string `json:"xdr"`
	} `json:"entries"`
	LatestLedger uint32 `json:"latestLedger"`
}

func (r *sorobanRPC) simulateTransaction(ctx context.Context, txB64 string) (*simulateResult, error) {
	var res simulateResult
	if err := r.call(ctx, "simulateTransaction", map[string]string{"transaction": txB64}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *sorobanRPC) sendTransaction(ctx context.Context, txB64 string) (*sendResult, error) {
	var res sendResult
	if err := r.call(ctx, "sendTransaction", map[string]string{"transaction": txB64}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *sorobanRPC) getTransaction(ctx context.Context, hash string) (*getTransactionResult, error) {
	var res getTransactionResult
	if err := r.call(ctx, "getTransaction", map[string]string{"hash": hash}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *sorobanRPC) getLedgerEntries(ctx context.Context, keys ...string) (*ledgerEntriesResult, error) {
	var res ledgerEntriesResult
	if err := r.call(ctx, "getLedgerEntries", map[string][]string{"keys": keys}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
