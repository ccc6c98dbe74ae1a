// Package obsws is a minimal obs-websocket v5 client covering the requests
// the composition layer needs. It speaks the protocol directly so responses
// can be decoded into typed result structs instead of generic maps.
package obsws

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Protocol opcodes (obs-websocket v5).
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

const rpcVersion = 1

// ErrClosed is returned by calls issued after the connection is gone.
var ErrClosed = errors.New("obsws: connection closed")

// Request status codes callers branch on.
const (
	CodeResourceNotFound      = 600
	CodeResourceAlreadyExists = 601
)

// IsNotFound reports whether err is a request failure for a missing scene,
// item, input, or filter.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Code == CodeResourceNotFound
}

// IsAlreadyExists reports whether err means the resource was already there.
// Creation paths treat this as success.
func IsAlreadyExists(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Code == CodeResourceAlreadyExists
}

// RequestError carries the failure status OBS attached to a request.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("obsws: %s failed (code %d): %s", e.RequestType, e.Code, e.Comment)
}

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type requestData struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type responseData struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

// Client is a connected, identified obs-websocket session. Safe for
// concurrent use; requests are correlated by id so calls can interleave.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan responseData
	closed  bool
	readErr error
}

// Connect dials OBS at addr (host:port), performs the Hello/Identify
// handshake, and starts the response reader. Password may be empty when OBS
// has authentication disabled.
func Connect(ctx context.Context, addr, password string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("obsws: dial %s: %w", addr, err)
	}

	c := &Client{conn: conn, pending: make(map[string]chan responseData)}
	if err := c.identify(ctx, password); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readLoop()
	slog.Info("obs websocket connected", slog.String("addr", addr))
	return c, nil
}

func (c *Client) identify(ctx context.Context, password string) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	var env envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("obsws: read hello: %w", err)
	}
	if env.Op != opHello {
		return fmt.Errorf("obsws: expected hello, got op %d", env.Op)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("obsws: decode hello: %w", err)
	}

	ident := identifyData{RPCVersion: rpcVersion}
	if hello.Authentication != nil {
		if password == "" {
			return errors.New("obsws: server requires authentication but no password configured")
		}
		ident.Authentication = authResponse(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := c.writeEnvelope(opIdentify, ident); err != nil {
		return fmt.Errorf("obsws: send identify: %w", err)
	}

	if err := c.conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("obsws: read identified: %w", err)
	}
	if env.Op != opIdentified {
		return fmt.Errorf("obsws: identify rejected (op %d)", env.Op)
	}
	return nil
}

// authResponse derives the v5 auth string:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	proof := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(proof[:])
}

func (c *Client) writeEnvelope(op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(envelope{Op: op, D: raw})
}

func (c *Client) readLoop() {
	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.failPending(err)
			return
		}
		if env.Op != opRequestResponse {
			continue // events and pings are not subscribed
		}
		var resp responseData
		if err := json.Unmarshal(env.D, &resp); err != nil {
			slog.Warn("obsws: undecodable response", slog.Any("error", err))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.readErr = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// call issues one request and decodes responseData into out (which may be
// nil for requests with no payload).
func (c *Client) call(ctx context.Context, requestType string, reqData, out any) error {
	id := uuid.NewString()
	ch := make(chan responseData, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeEnvelope(opRequest, requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: reqData,
	}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("obsws: send %s: %w", requestType, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
		}
		if !resp.RequestStatus.Result {
			return &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("obsws: decode %s response: %w", requestType, err)
			}
		}
		return nil
	}
}

// Close tears down the websocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
