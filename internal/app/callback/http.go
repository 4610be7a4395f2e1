package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HTTPConsumer posts results to a URL as JSON.
type HTTPConsumer struct {
	URL    string
	Client *http.Client
}

// resultPayload is the body an HTTP consumer receives.
type resultPayload struct {
	TaskID       common.Hash   `json:"task_id"`
	ResultDigest common.Hash   `json:"result_digest"`
	Payload      hexutil.Bytes `json:"payload"`
}

// ReceiveResult implements domain.ResultConsumer. Any non-2xx status is an
// error.
func (c *HTTPConsumer) ReceiveResult(ctx context.Context, taskID, resultDigest common.Hash, payload []byte) error {
	body, err := json.Marshal(resultPayload{TaskID: taskID, ResultDigest: resultDigest, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("consumer %s returned %d", c.URL, resp.StatusCode)
	}
	return nil
}
