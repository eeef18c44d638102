// Package originclient is the gateway's origin HTTP transport collaborator:
// it performs the actual request to the upstream origin and hands back
// response head metadata (status, headers) immediately, before the body is
// read — the "head-before-body" contract the response handler depends on to
// classify a response as streaming or bufferable without having to buffer
// it first.
//
// Connections are pooled per origin host, since this gateway fronts one
// class of origin rather than many. The Stream contract returns io.EOF from
// Next() once the body is exhausted, which is exactly the shape the
// response handler's read loop wants.
package originclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	DisableCompression    bool
	ForceHTTP2            bool
}

// DefaultPoolConfig returns production-grade pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		ResponseHeaderTimeout: 0, // handled by the caller's context deadline
		ExpectContinueTimeout: time.Second,
		ForceHTTP2:            true,
	}
}

// ConnectionPool manages shared HTTP transports/clients, one per origin host.
type ConnectionPool struct {
	mu         sync.RWMutex
	transports map[string]*http.Transport
	clients    map[string]*http.Client
	defaults   PoolConfig
}

// NewConnectionPool creates a pool using defaults for every host.
func NewConnectionPool(defaults PoolConfig) *ConnectionPool {
	return &ConnectionPool{
		transports: make(map[string]*http.Transport),
		clients:    make(map[string]*http.Client),
		defaults:   defaults,
	}
}

// GetClient returns the shared client for host, creating it (and its
// transport) on first access.
func (p *ConnectionPool) GetClient(host string) *http.Client {
	p.mu.RLock()
	if c, ok := p.clients[host]; ok {
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[host]; ok {
		return c
	}

	t := p.createTransport(p.defaults)
	p.transports[host] = t
	c := &http.Client{Transport: t}
	p.clients[host] = c
	return c
}

// Close closes idle connections on every pooled transport.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}

func (p *ConnectionPool) createTransport(cfg PoolConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableCompression:    cfg.DisableCompression,
	}
	if cfg.ForceHTTP2 {
		t.TLSClientConfig = &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
			MinVersion: tls.VersionTLS12,
		}
		t.ForceAttemptHTTP2 = true
	}
	return t
}

// ─── Stream contract ────────────────────────────────────────

// Stream reads a response body incrementally. Next returns io.EOF once the
// body is exhausted, matching the shape bufio/io.Reader callers expect.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// HTTPStream implements Stream over an *http.Response body.
type HTTPStream struct {
	body      io.ReadCloser
	chunkSize int
}

// NewHTTPStream wraps resp.Body as a Stream, reading in chunkSize pieces
// (default 32KiB).
func NewHTTPStream(resp *http.Response, chunkSize int) *HTTPStream {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	return &HTTPStream{body: resp.Body, chunkSize: chunkSize}
}

func (s *HTTPStream) Next() ([]byte, error) {
	buf := make([]byte, s.chunkSize)
	n, err := s.body.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *HTTPStream) Close() error { return s.body.Close() }

// ─── Transport ───────────────────────────────────────────────

// Response is the origin transport's head-before-body result: Status and
// Header are populated as soon as the origin's response head arrives, long
// before Body has been read.
type Response struct {
	Status int
	Header http.Header
	Body   Stream
}

// Transport fetches a single request against the origin.
type Transport interface {
	Do(ctx context.Context, req *http.Request) (*Response, error)
}

// Client is the default Transport, backed by a per-host connection pool.
type Client struct {
	pool      *ConnectionPool
	chunkSize int
}

// NewClient builds a Client with production pool defaults.
func NewClient() *Client {
	return &Client{pool: NewConnectionPool(DefaultPoolConfig()), chunkSize: 32 * 1024}
}

// Do issues req against the origin and returns as soon as the response head
// is available; the body is exposed as a Stream for incremental reads.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if req.URL == nil || req.URL.Host == "" {
		return nil, fmt.Errorf("originclient: request has no host")
	}
	client := c.pool.GetClient(req.URL.Host)

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("originclient: %w", err)
	}

	// net/http moves Transfer-Encoding out of resp.Header into
	// resp.TransferEncoding; put it back so the head carries it.
	header := resp.Header
	if len(resp.TransferEncoding) > 0 && header.Get("Transfer-Encoding") == "" {
		header = header.Clone()
		header["Transfer-Encoding"] = resp.TransferEncoding
	}

	return &Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   NewHTTPStream(resp, c.chunkSize),
	}, nil
}

// Close releases pooled connections.
func (c *Client) Close() { c.pool.Close() }
