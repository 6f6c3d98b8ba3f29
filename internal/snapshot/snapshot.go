package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/DoyleJ11/jackport-sync/pkg/types"
)

var ErrStatus = errors.New("unexpected status")

const (
	gamePath = "getRecentGame"
	chatPath = "getMessage"

	maxBody = 4 << 20
)

// Client reads bootstrap snapshots from the game server's HTTP API.
// Both calls are read-only and safe to repeat.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}
}

func (c *Client) GetGame(ctx context.Context) (types.GameSnapshot, error) {
	var snap types.GameSnapshot
	if err := c.get(ctx, gamePath, &snap); err != nil {
		return types.GameSnapshot{}, err
	}
	return snap, nil
}

func (c *Client) GetChat(ctx context.Context) (types.ChatSnapshot, error) {
	var snap types.ChatSnapshot
	if err := c.get(ctx, chatPath, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	u, err := url.JoinPath(c.base, path)
	if err != nil {
		return fmt.Errorf("build %s url: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return fmt.Errorf("get %s: %w: %d", path, ErrStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
