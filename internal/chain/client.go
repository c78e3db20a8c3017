// Package chain talks to the anchor ledger over JSON-RPC and drives
// transactions through the execution pipeline.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TxMessage is the call/transaction shape shared by estimation, dry runs and
// submission.
type TxMessage struct {
	From string
	To   string
	Gas  uint64
	Data []byte
}

func (m TxMessage) toRPC() map[string]string {
	out := map[string]string{
		"from":  m.From,
		"to":    m.To,
		"data":  "0x" + hex.EncodeToString(m.Data),
		"value": "0x0",
	}
	if m.Gas > 0 {
		out["gas"] = fmt.Sprintf("0x%x", m.Gas)
	}
	return out
}

// TxReceipt mirrors eth_getTransactionReceipt fields the pipeline reports.
type TxReceipt struct {
	TxHash            string
	Status            uint64
	BlockNumber       uint64
	TransactionIndex  uint64
	GasUsed           uint64
	EffectiveGasPrice uint64
}

// RPCError keeps the node's code and data so failures can be classified
// independent of the node's native representation.
type RPCError struct {
	Code    int
	Message string
	Data    string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	EstimateGas(ctx context.Context, msg TxMessage) (uint64, error)
	Call(ctx context.Context, msg TxMessage) (string, error)
	SendTransaction(ctx context.Context, msg TxMessage) (string, error)
	TransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error)
}

type JSONRPCClient struct {
	httpURL    string
	httpClient *http.Client
}

func NewJSONRPCClient(httpURL string) (*JSONRPCClient, error) {
	if strings.TrimSpace(httpURL) == "" {
		return nil, fmt.Errorf("missing CHAIN_HTTP_RPC")
	}
	return &JSONRPCClient{
		httpURL:    strings.TrimSpace(httpURL),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (c *JSONRPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var out string
	if err := c.rpc(ctx, "eth_blockNumber", []any{}, &out); err != nil {
		return 0, err
	}
	return parseHexUint64(out)
}

func (c *JSONRPCClient) EstimateGas(ctx context.Context, msg TxMessage) (uint64, error) {
	var out string
	if err := c.rpc(ctx, "eth_estimateGas", []any{msg.toRPC()}, &out); err != nil {
		return 0, err
	}
	return parseHexUint64(out)
}

func (c *JSONRPCClient) Call(ctx context.Context, msg TxMessage) (string, error) {
	var out string
	if err := c.rpc(ctx, "eth_call", []any{msg.toRPC(), "latest"}, &out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *JSONRPCClient) SendTransaction(ctx context.Context, msg TxMessage) (string, error) {
	var txHash string
	if err := c.rpc(ctx, "eth_sendTransaction", []any{msg.toRPC()}, &txHash); err != nil {
		return "", err
	}
	if !strings.HasPrefix(txHash, "0x") {
		return "", fmt.Errorf("invalid tx hash response")
	}
	return txHash, nil
}

func (c *JSONRPCClient) TransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error) {
	var raw *struct {
		Status            string `json:"status"`
		BlockNumber       string `json:"blockNumber"`
		TransactionIndex  string `json:"transactionIndex"`
		GasUsed           string `json:"gasUsed"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
	}
	if err := c.rpc(ctx, "eth_getTransactionReceipt", []any{txHash}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	out := &TxReceipt{TxHash: strings.ToLower(txHash)}
	var err error
	if out.Status, err = parseHexUint64(raw.Status); err != nil {
		return nil, fmt.Errorf("invalid status in receipt: %w", err)
	}
	if out.BlockNumber, err = parseHexUint64(raw.BlockNumber); err != nil {
		return nil, fmt.Errorf("invalid blockNumber in receipt: %w", err)
	}
	if out.TransactionIndex, err = parseHexUint64(raw.TransactionIndex); err != nil {
		return nil, fmt.Errorf("invalid transactionIndex in receipt: %w", err)
	}
	if out.GasUsed, err = parseHexUint64(raw.GasUsed); err != nil {
		return nil, fmt.Errorf("invalid gasUsed in receipt: %w", err)
	}
	if raw.EffectiveGasPrice != "" {
		if out.EffectiveGasPrice, err = parseHexUint64(raw.EffectiveGasPrice); err != nil {
			return nil, fmt.Errorf("invalid effectiveGasPrice in receipt: %w", err)
		}
	}
	return out, nil
}

func (c *JSONRPCClient) rpc(ctx context.Context, method string, params []any, out any) error {
	reqBody, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var payload struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	if payload.Error != nil {
		return &RPCError{
			Code:    payload.Error.Code,
			Message: payload.Error.Message,
			Data:    strings.Trim(string(payload.Error.Data), `"`),
		}
	}
	if len(payload.Result) == 0 || string(payload.Result) == "null" {
		return json.Unmarshal([]byte("null"), out)
	}
	return json.Unmarshal(payload.Result, out)
}

func parseHexUint64(v string) (uint64, error) {
	clean := strings.TrimSpace(strings.ToLower(v))
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	return strconv.ParseUint(clean, 16, 64)
}
