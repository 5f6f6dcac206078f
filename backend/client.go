// Package backend is the HTTP client for the repair shop API. Every request
// carries the session token and, for tenant-scoped endpoints, the active
// tenant header.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const defaultTimeout = 30 * time.Second

// TenantSource reports the active tenant pointer.
type TenantSource interface {
	ActiveID() (int64, bool)
}

// StatusError is returned for non-2xx responses other than 401.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Client struct {
	baseURL      string
	http         *http.Client
	tenantHeader string

	tenantsLock sync.RWMutex
	tenants     TenantSource
}

type Option func(*Client)

// WithTenantHeader overrides the header carrying the tenant id.
func WithTenantHeader(name string) Option {
	return func(c *Client) {
		c.tenantHeader = name
	}
}

// WithBaseTransport sets the transport under the authorization layer.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport.(*oauth2.Transport).Base = rt
	}
}

// New builds a client that authorizes every request with tokens from
// tokens.
func New(baseURL string, tokens oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Transport: &oauth2.Transport{Source: tokens},
			Timeout:   defaultTimeout,
		},
		tenantHeader: "X-Tenant-ID",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTenantSource wires the active tenant pointer. The catalog is built on
// top of the client, so it is attached after construction.
func (c *Client) SetTenantSource(ts TenantSource) {
	c.tenantsLock.Lock()
	defer c.tenantsLock.Unlock()
	c.tenants = ts
}

func (c *Client) activeTenant() (int64, bool) {
	c.tenantsLock.RLock()
	ts := c.tenants
	c.tenantsLock.RUnlock()
	if ts == nil {
		return 0, false
	}
	return ts.ActiveID()
}

type request struct {
	method string
	path   string
	body   any
	// tenantID is sent in the tenant header when non-nil.
	tenantID *int64
}

// scoped returns a request carrying the active tenant header, or
// ErrNoActiveTenant when no tenant is active.
func (c *Client) scoped(method, path string, body any) (request, error) {
	id, ok := c.activeTenant()
	if !ok {
		return request{}, sessionerrors.Wrapf(sessionerrors.ErrNoActiveTenant, "%s %s", method, path)
	}
	return request{method: method, path: path, body: body, tenantID: &id}, nil
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return errors.Wrapf(err, "[Client.do] marshal %s", r.path)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return errors.Wrap(err, "[Client.do] new request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.tenantID != nil {
		req.Header.Set(c.tenantHeader, strconv.FormatInt(*r.tenantID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[Client.do] %s %s", r.method, r.path)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "[Client.do] read response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return sessionerrors.Wrapf(sessionerrors.ErrUnauthorized, "%s %s", r.method, r.path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Method: r.method, Path: r.path, Code: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "[Client.do] decode %s", r.path)
	}
	return nil
}
