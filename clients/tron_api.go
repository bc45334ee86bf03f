package clients

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// tronAPI is a minimal TronGrid HTTP client. Requests use visible=true so
// addresses travel in base58.
type tronAPI struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newTronAPI(baseURL, apiKey string, httpClient *http.Client) *tronAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &tronAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

type tronTriggerRequest struct {
	OwnerAddress     string `json:"owner_address"`
	ContractAddress  string `json:"contract_address"`
	FunctionSelector string `json:"function_selector"`
	Parameter        string `json:"parameter,omitempty"`
	FeeLimit         int64  `json:"fee_limit,omitempty"`
	CallValue        int64  `json:"call_value,omitempty"`
	Visible          bool   `json:"visible"`
}

type tronReturn struct {
	Result  bool   `json:"result"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type tronTransaction struct {
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Visible    bool            `json:"visible"`
	Signature  []string        `json:"signature,omitempty"`
	Ret        []tronRet       `json:"ret,omitempty"`
}

type tronRet struct {
	Ret string `json:"ret"`
}

func (tx *tronTransaction) failed() bool {
	return tx != nil && len(tx.Ret) > 0 && tx.Ret[0].Ret == "FAILED"
}

type tronTriggerResponse struct {
	Result         tronReturn       `json:"result"`
	ConstantResult []string         `json:"constant_result"`
	Transaction    *tronTransaction `json:"transaction"`
}

type tronBroadcastResponse struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type tronTransactionInfo struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
	Result      string `json:"result,omitempty"`
	ResMessage  string `json:"resMessage,omitempty"`
	Receipt     struct {
		Result string `json:"result"`
	} `json:"receipt"`
}

type tronAccount struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

func (a *tronAPI) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http %d: %s", path, resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

func (a *tronAPI) triggerConstant(ctx context.Context, req tronTriggerRequest) (*tronTriggerResponse, error) {
	req.Visible = true
	var res tronTriggerResponse
	if err := a.post(ctx, "/wallet/triggerconstantcontract", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *tronAPI) triggerSmart(ctx context.Context, req tronTriggerRequest) (*tronTriggerResponse, error) {
	req.Visible = true
	var res tronTriggerResponse
	if err := a.post(ctx, "/wallet/triggersmartcontract", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *tronAPI) broadcast(ctx context.Context, tx *tronTransaction) (*tronBroadcastResponse, error) {
	var res tronBroadcastResponse
	if err := a.post(ctx, "/wallet/broadcasttransaction", tx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// transactionInfo returns nil while the transaction is not yet in a block.
func (a *tronAPI) transactionInfo(ctx context.Context, txID string) (*tronTransactionInfo, error) {
	var res tronTransactionInfo
	if err := a.post(ctx, "/wallet/gettransactioninfobyid", map[string]string{"value": txID}, &res); err != nil {
		return nil, err
	}
	if res.ID == "" {
		return nil, nil
	}
	return &res, nil
}

func (a *tronAPI) account(ctx context.Context, address string) (*tronAccount, error) {
	var res tronAccount
	body := map[string]interface{}{"address": address, "visible": true}
	if err := a.post(ctx, "/wallet/getaccount", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// checkTxID verifies that txID is the sha256 of raw_data_hex, so the node
// cannot get a different transaction signed.
func checkTxID(tx *tronTransaction) ([]byte, error) {
	raw, err := hex.DecodeString(tx.RawDataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid raw_data_hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), tx.TxID) {
		return nil, fmt.Errorf("txID %s does not match raw data", tx.TxID)
	}
	return sum[:], nil
}

// decodeTronMessage returns the hex-decoded form of a TronGrid message,
// or the message itself when it is not hex.
func decodeTronMessage(msg string) string {
	if b, err := hex.DecodeString(msg); err == nil && len(b) > 0 {
		return string(b)
	}
	return msg
}
