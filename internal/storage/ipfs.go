package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/breathing.report/internal/httputil"
)

// Kubo error payloads and our own artifacts are small; anything bigger than
// this coming back from the node is wrong.
const maxRPCResponse = 8 << 20

// IPFSClient implements ContentStore against a Kubo node's HTTP RPC API (the
// /api/v0 surface, port 5001 by default). Every method issues a single POST
// bounded by the per-call timeout; retry policy belongs to the caller.
type IPFSClient struct {
	baseURL string
	client  httputil.HTTPClient
	timeout time.Duration
}

// NewIPFSClient creates a client for the node at baseURL, for example
// "http://127.0.0.1:5001". A nil client falls back to the standard library
// transport; a non-positive timeout falls back to ten seconds.
func NewIPFSClient(baseURL string, client httputil.HTTPClient, timeout time.Duration) *IPFSClient {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IPFSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
}

type idResponse struct {
	ID           string `json:"ID"`
	AgentVersion string `json:"AgentVersion"`
}

// kuboError is the JSON envelope Kubo wraps around non-2xx responses.
type kuboError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
}

// Put uploads data through /api/v0/add without pinning and returns the CID
// the node assigned.
func (c *IPFSClient) Put(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "artifact.json")
	if err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}

	params := url.Values{"pin": {"false"}, "cid-version": {"1"}}
	resp, err := c.post(ctx, "/api/v0/add", params, &body, mw.FormDataContentType())
	if err != nil {
		return "", fmt.Errorf("add: %w", err)
	}
	var added addResponse
	if err := json.Unmarshal(resp, &added); err != nil {
		return "", fmt.Errorf("add: malformed node response: %w", err)
	}
	if added.Hash == "" {
		return "", fmt.Errorf("add: node returned no content identifier")
	}
	return added.Hash, nil
}

// Pin asks the node to pin a CID through /api/v0/pin/add. Kubo treats
// re-pinning as a no-op success.
func (c *IPFSClient) Pin(ctx context.Context, cid string) error {
	if _, err := c.post(ctx, "/api/v0/pin/add", url.Values{"arg": {cid}}, nil, ""); err != nil {
		return fmt.Errorf("pin %s: %w", cid, err)
	}
	return nil
}

// Get fetches raw content bytes by CID through /api/v0/cat.
func (c *IPFSClient) Get(ctx context.Context, cid string) ([]byte, error) {
	data, err := c.post(ctx, "/api/v0/cat", url.Values{"arg": {cid}}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("cat %s: %w", cid, err)
	}
	return data, nil
}

// Status probes the node with /api/v0/id and reports its peer identity and
// agent version. An unreachable node comes back as Available=false with the
// cause in Error, never as a non-nil error.
func (c *IPFSClient) Status(ctx context.Context) (*NodeStatus, error) {
	data, err := c.post(ctx, "/api/v0/id", nil, nil, "")
	if err != nil {
		return &NodeStatus{Available: false, Error: err.Error()}, nil
	}
	var id idResponse
	if err := json.Unmarshal(data, &id); err != nil {
		return &NodeStatus{Available: false, Error: fmt.Sprintf("malformed node response: %v", err)}, nil
	}
	return &NodeStatus{Available: true, PeerID: id.ID, Version: id.AgentVersion}, nil
}

// post issues one RPC call and returns the response body. Kubo exposes every
// endpoint as POST with arguments in the query string.
func (c *IPFSClient) post(ctx context.Context, path string, params url.Values, body io.Reader, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read node response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ke kuboError
		if json.Unmarshal(data, &ke) == nil && ke.Message != "" {
			return nil, fmt.Errorf("node returned %d: %s", resp.StatusCode, ke.Message)
		}
		return nil, fmt.Errorf("node returned %d", resp.StatusCode)
	}
	return data, nil
}
