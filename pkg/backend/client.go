// Package backend holds the client-side HTTP collaborators of the chat
// engine: history pagination, room control, attachment upload, and token
// issue. The engine only sees their interfaces; everything here is plain
// request/response plumbing against the API service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mahir/supportline/pkg/store"
)

// MaxAttachmentBytes is the upload ceiling. Enforced client-side: larger
// payloads are rejected without contacting the service.
const MaxAttachmentBytes = 10 << 20

// ErrTooLarge is returned by Upload for payloads over MaxAttachmentBytes.
var ErrTooLarge = errors.New("attachment exceeds 10 MiB ceiling")

// Client talks to the API service. Zero-value http.Client timeouts are
// too open-ended for room entry, so a bounded one is installed.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, bytes.TrimSpace(body))
	}
	return resp, nil
}

// FetchPage implements store.HistoryFetcher. Items come back newest-first;
// the store flips them.
func (c *Client) FetchPage(ctx context.Context, roomID string, offset, limit int) (store.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history", nil)
	if err != nil {
		return store.Page{}, err
	}
	q := req.URL.Query()
	q.Set("room_id", roomID)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()

	resp, err := c.do(req)
	if err != nil {
		return store.Page{}, err
	}
	defer resp.Body.Close()

	var page store.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return store.Page{}, err
	}
	return page, nil
}

// Join registers the operator in the room.
func (c *Client) Join(ctx context.Context, roomID string) error {
	return c.post(ctx, "/rooms/"+roomID+"/join", nil, nil)
}

// MarkResolved flags the room resolved on the room-control service.
func (c *Client) MarkResolved(ctx context.Context, roomID string) error {
	return c.post(ctx, "/rooms/"+roomID+"/resolve", nil, nil)
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload pushes attachment bytes to the attachment service and returns the
// stored URL. Payloads over MaxAttachmentBytes fail with ErrTooLarge
// before any network traffic.
func (c *Client) Upload(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if int64(len(data)) > MaxAttachmentBytes {
		return "", ErrTooLarge
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/attachments", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("X-Attachment-Name", name)

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.URL, nil
}

type tokenRequest struct {
	OperatorID string `json:"operator_id"`
	Label      string `json:"label"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Token fetches an operator JWT. In deployment the identity is
// pre-established; this mirrors the console's bootstrap step.
func Token(ctx context.Context, baseURL, operatorID, label string) (string, error) {
	body, _ := json.Marshal(tokenRequest{OperatorID: operatorID, Label: label})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed: %s", bytes.TrimSpace(msg))
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
