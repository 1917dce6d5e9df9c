// client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tusk/internal/commits"
	tuskerr "tusk/internal/errors"
	"tusk/internal/remote"
	"tusk/internal/tree"
)

// Client talks to a tusk server. It implements sync.Peer, so a Syncer can
// push and pull through it, and additionally covers the remote staging
// endpoints. Typed errors from the server are rebuilt as typed errors
// here: a 409 on a branch swap comes back as NonFastForward, not a bare
// status string.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
	}
}

func (c *Client) GetBranch(ctx context.Context, name string) (string, error) {
	var out struct {
		CommitID string `json:"commit_id"`
	}
	if err := c.getJSON(ctx, "/api/branches/"+url.PathEscape(name), &out); err != nil {
		return "", err
	}
	return out.CommitID, nil
}

func (c *Client) CompareAndSwapBranch(ctx context.Context, name, expectedOld, newID string) error {
	req := map[string]string{"expected_old": expectedOld, "new_id": newID}
	return c.postJSON(ctx, "/api/branches/"+url.PathEscape(name), req, nil)
}

func (c *Client) GetCommit(ctx context.Context, id string) (*commits.Commit, error) {
	var out commits.Commit
	if err := c.getJSON(ctx, "/api/commits/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PutCommit(ctx context.Context, commit *commits.Commit) error {
	return c.postJSON(ctx, "/api/commits", commit, nil)
}

func (c *Client) GetTree(ctx context.Context, hash string) (*tree.Node, error) {
	var out tree.Node
	if err := c.getJSON(ctx, "/api/trees/"+url.PathEscape(hash), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) HasObjects(ctx context.Context, hashes []string) (map[string]bool, error) {
	req := map[string][]string{"hashes": hashes}
	var out struct {
		Present map[string]bool `json:"present"`
	}
	if err := c.postJSON(ctx, "/api/objects/exists", req, &out); err != nil {
		return nil, err
	}
	return out.Present, nil
}

func (c *Client) GetObject(ctx context.Context, hash string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/objects/"+url.PathEscape(hash), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) PutObject(ctx context.Context, content []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/objects", "application/octet-stream", bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", decodeError(resp)
	}

	var out struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

// StageUpload sends a file into branch's staging area and returns the
// entry with its server-assigned unique path.
func (c *Client) StageUpload(ctx context.Context, branch, dir, name string, content []byte) (*remote.Entry, error) {
	req := map[string]any{"dir": dir, "name": name, "content": content}
	var out remote.Entry
	if err := c.postJSON(ctx, "/api/staging/"+url.PathEscape(branch)+"/files", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListStaged(ctx context.Context, branch string) ([]remote.Entry, error) {
	var out []remote.Entry
	if err := c.getJSON(ctx, "/api/staging/"+url.PathEscape(branch), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStaged fetches a staged file's content before it is committed.
func (c *Client) GetStaged(ctx context.Context, branch, p string) ([]byte, error) {
	path := "/api/staging/" + url.PathEscape(branch) + "/file?path=" + url.QueryEscape(p)
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) AppendRow(ctx context.Context, branch, tablePath string, row remote.Row) (*remote.Entry, error) {
	req := map[string]any{"path": tablePath, "row": row}
	var out remote.Entry
	if err := c.postJSON(ctx, "/api/staging/"+url.PathEscape(branch)+"/rows", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CommitStaged(ctx context.Context, branch, message, author string) (*commits.Commit, error) {
	req := map[string]string{"message": message, "author": author}
	var out commits.Commit
	if err := c.postJSON(ctx, "/api/staging/"+url.PathEscape(branch)+"/commit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpClient.Do(req)
}

// decodeError turns an error response back into the typed error the
// server raised. A body that is not a typed error becomes Internal with
// the raw status attached.
func decodeError(resp *http.Response) error {
	var body struct {
		Error *tuskerr.Error `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != nil && body.Error.Type != "" {
		return body.Error
	}
	return &tuskerr.Error{
		Type:    tuskerr.ErrorTypeInternal,
		Message: fmt.Sprintf("unexpected status from server: %s", resp.Status),
		Code:    resp.StatusCode,
	}
}
