package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	errorsmod "cosmossdk.io/errors"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the node.
// Protocol failures unwrap to the registered protocol error, so errors.Is works
// against the sentinels in internal/protocol.
type APIError struct {
	Status    int    // Status is the HTTP status code
	Codespace string // Codespace is the error registry namespace
	Code      uint32 // Code is the registered error code
	Message   string // Message is the server-side error text
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Unwrap returns the registered protocol error for the code, if any.
func (e *APIError) Unwrap() error {
	if e.Codespace == "" {
		return nil
	}

	return errorsmod.ABCIError(e.Codespace, e.Code, e.Message)
}

// get performs a GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

// postTx sends signed transaction bytes to POST /tx and decodes the JSON receipt.
func (c *Client) postTx(ctx context.Context, txBytes []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", bytes.NewReader(txBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	return c.do(req, result)
}

// do runs req and decodes either the result or the error body.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", req.Method, req.URL.Path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// decodeError turns an error response into an *APIError.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Code      uint32 `json:"code"`
		Codespace string `json:"codespace"`
		Error     string `json:"error"`
	}

	apiErr := &APIError{Status: resp.StatusCode}

	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = string(bytes.TrimSpace(raw))
		return apiErr
	}

	apiErr.Code = body.Code
	apiErr.Codespace = body.Codespace
	apiErr.Message = body.Error

	return apiErr
}
