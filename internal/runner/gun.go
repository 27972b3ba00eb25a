package runner

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"loadtank/internal/stats"
)

// HTTPGun sends missiles to a fixed target. A missile is either a raw HTTP
// request or a single request URI, fetched with GET.
type HTTPGun struct {
	target *url.URL
	client *http.Client
}

func NewHTTPGun(target string, timeout time.Duration) (*HTTPGun, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("runner: bad target %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("runner: target %q needs a scheme and a host", target)
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &HTTPGun{
		target: u,
		client: &http.Client{
			Timeout:   timeout,
			Transport: t,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (g *HTTPGun) request(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		uri := strings.TrimSpace(string(payload))
		if uri == "" || strings.ContainsAny(uri, " \r\n") {
			return nil, err
		}
		if req, err = http.NewRequest(http.MethodGet, uri, nil); err != nil {
			return nil, err
		}
	}
	req.RequestURI = ""
	req.URL.Scheme = g.target.Scheme
	req.URL.Host = g.target.Host
	return req.WithContext(ctx), nil
}

// phases collects trace timestamps. Trace hooks run on transport goroutines.
type phases struct {
	mu        sync.Mutex
	gotConn   time.Time
	reused    bool
	wrote     time.Time
	firstByte time.Time
}

func (p *phases) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			p.mu.Lock()
			p.gotConn, p.reused = time.Now(), info.Reused
			p.mu.Unlock()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			p.mu.Lock()
			p.wrote = time.Now()
			p.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			p.mu.Lock()
			p.firstByte = time.Now()
			p.mu.Unlock()
		},
	}
}

// span is b-a in microseconds, 0 when either end was never reached.
func span(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() || b.Before(a) {
		return 0
	}
	return b.Sub(a).Microseconds()
}

func (g *HTTPGun) Shoot(ctx context.Context, payload []byte) stats.Sample {
	s := stats.Sample{SizeOut: int64(len(payload))}

	req, err := g.request(ctx, payload)
	if err != nil {
		s.NetCode = netUnknown
		return s
	}
	var p phases
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), p.trace()))

	start := time.Now()
	resp, err := g.client.Do(req)
	if err == nil {
		s.ProtoCode = resp.StatusCode
		s.SizeIn, err = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	end := time.Now()
	if err != nil {
		s.NetCode = netCode(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s.IntervalReal = span(start, end)
	if !p.reused {
		s.Connect = span(start, p.gotConn)
	}
	s.Send = span(p.gotConn, p.wrote)
	s.Latency = span(p.wrote, p.firstByte)
	s.Receive = span(p.firstByte, end)
	return s
}

// netCode maps a transport error to an errno-style code.
func netCode(err error) int {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return netConnRefused
	case errors.Is(err, syscall.ECONNRESET):
		return netConnReset
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return netTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return netTimeout
	}
	return netUnknown
}
