package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	stdpath "path"
	"time"

	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/server"
)

// DummyHost is used to satisfy the http.Client's requirement for a URL.
const DummyHost = "api.agentround.localhost"

// Client talks to an agentround server.
type Client struct {
	h       *http.Client
	network string
	addr    string
}

// StatusError is returned for non-2xx responses. Message comes from the
// server's error body when there is one.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// DefaultClient creates a new [Client] connected to the default server address.
func DefaultClient() (*Client, error) {
	return NewClientHost(server.DefaultHost())
}

// NewClientHost creates a client from a host URL such as
// unix:///tmp/agentround.sock or tcp://127.0.0.1:8765.
func NewClientHost(host string) (*Client, error) {
	u, err := server.ParseHostURL(host)
	if err != nil {
		return nil, err
	}
	return NewClient(u.Scheme, u.Host)
}

// NewClient creates a new [Client] connected to the server at the given
// network and address.
func NewClient(network, address string) (*Client, error) {
	c := new(Client)
	c.network = network
	c.addr = address
	p := &http.Protocols{}
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Protocols = p
	tr.DialContext = c.dialer
	if c.network == "npipe" || c.network == "unix" {
		// We don't need compression for local connections.
		tr.DisableCompression = true
	}
	c.h = &http.Client{
		Transport: tr,
		Timeout:   0, // we need this to be 0 for long-lived connections and SSE streams
	}
	return c, nil
}

// Health checks the server's health status.
func (c *Client) Health(ctx context.Context) error {
	var h proto.Health
	if err := c.call(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return err
	}
	if h.Status != "ok" {
		return fmt.Errorf("server health check failed: %s", h.Status)
	}
	return nil
}

// VersionInfo retrieves the server's version information.
func (c *Client) VersionInfo(ctx context.Context) (*proto.VersionInfo, error) {
	var vi proto.VersionInfo
	if err := c.call(ctx, http.MethodGet, "/version", nil, &vi); err != nil {
		return nil, err
	}
	return &vi, nil
}

// ShutdownServer sends a shutdown request to the server.
func (c *Client) ShutdownServer(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/control", proto.ServerControl{Command: "shutdown"}, nil)
}

func (c *Client) dialer(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	// It's important to use the client's addr for npipe/unix and not the
	// address param because the address param is always "localhost:port" for
	// HTTP clients and npipe/unix don't have a concept of ports.
	switch c.network {
	case "npipe":
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return dialPipeContext(ctx, c.addr)
	case "unix":
		return d.DialContext(ctx, "unix", c.addr)
	default:
		return d.DialContext(ctx, network, address)
	}
}

// call sends a JSON request and decodes the JSON reply into out when out is
// not nil.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	rsp, err := c.sendReq(ctx, method, path, nil, body, nil)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, rsp.Body)
		return nil
	}
	if err := json.NewDecoder(rsp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) sendReq(ctx context.Context, method, path string, query url.Values, body io.Reader, headers http.Header) (*http.Response, error) {
	url := (&url.URL{
		Path:     stdpath.Join("/v1", path), // Right now, we only have v1
		RawQuery: query.Encode(),
	}).String()
	req, err := c.buildReq(ctx, method, url, body, headers)
	if err != nil {
		return nil, err
	}

	rsp, err := c.h.Do(req)
	if err != nil {
		return nil, err
	}
	if rsp.StatusCode/100 != 2 {
		defer rsp.Body.Close()
		var perr proto.Error
		_ = json.NewDecoder(io.LimitReader(rsp.Body, 64<<10)).Decode(&perr)
		return nil, &StatusError{StatusCode: rsp.StatusCode, Message: perr.Message}
	}
	return rsp, nil
}

func (c *Client) buildReq(ctx context.Context, method, url string, body io.Reader, headers http.Header) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		r.Header[http.CanonicalHeaderKey(k)] = v
	}

	r.URL.Scheme = "http" // This is always http because we don't use TLS
	r.URL.Host = c.addr
	if c.network == "npipe" || c.network == "unix" {
		// We use a dummy host for non-tcp connections.
		r.Host = DummyHost
	}

	if body != nil && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}

	return r, nil
}
