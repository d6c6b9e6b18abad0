// Package client is a thin API client for the camstream server, used by the
// camctl tool to drive accounts and simulate devices.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to one camstream server.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Session is an authenticated account session.
type Session struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
}

// Provisioned is the one-time provisioning result; DeviceKey is shown only
// here and cannot be retrieved again.
type Provisioned struct {
	DeviceID  string `json:"deviceId"`
	DeviceKey string `json:"deviceKey"`
	Name      string `json:"name"`
	Rotated   bool   `json:"rotated"`
}

func (c *Client) Register(ctx context.Context, name, email, password string) (*Session, error) {
	var session Session
	err := c.postJSON(ctx, "/api/auth/register", "",
		map[string]string{"name": name, "email": email, "password": password}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	err := c.postJSON(ctx, "/api/auth/login", "",
		map[string]string{"email": email, "password": password}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) ProvisionDevice(ctx context.Context, token, name string) (*Provisioned, error) {
	var result Provisioned
	err := c.postJSON(ctx, "/api/devices/register", token, map[string]string{"name": name}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// IngestFile uploads the file's bytes as one segment and returns the new
// segment id. The interval defaults to [now, now] when zero.
func (c *Client) IngestFile(ctx context.Context, deviceKey, path string, startedAt, finishedAt time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"segment": base64.StdEncoding.EncodeToString(data),
	}
	if !startedAt.IsZero() {
		body["startedAt"] = startedAt.UnixMilli()
	}
	if !finishedAt.IsZero() {
		body["finishedAt"] = finishedAt.UnixMilli()
	}

	var result struct {
		SegmentID string `json:"segmentId"`
	}
	if err := c.postJSON(ctx, "/api/segments", deviceKey, body, &result); err != nil {
		return "", err
	}
	return result.SegmentID, nil
}

// TailEvents follows the realtime channel for one device and writes each
// received event as a JSON line. It returns when ctx is cancelled or the
// connection drops.
func (c *Client) TailEvents(ctx context.Context, token, deviceID string, out io.Writer) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	steps := []map[string]string{
		{"type": "authenticate", "token": token},
		{"type": "subscribe", "deviceId": deviceID},
	}
	for _, step := range steps {
		if err := conn.WriteJSON(step); err != nil {
			return err
		}
		var ack struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if err := conn.ReadJSON(&ack); err != nil {
			return err
		}
		if ack.Type == "auth-error" {
			return fmt.Errorf("server refused %s: %s", step["type"], ack.Message)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, string(data))
	}
}

func (c *Client) postJSON(ctx context.Context, path, bearer string, body, result any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
			return fmt.Errorf("server: %s", envelope.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
