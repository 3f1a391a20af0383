package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUserAgent(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Header.Get("User-Agent"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, c *http.Client, url string, header http.Header) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewClient_Timeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient().Timeout)
	assert.Equal(t, 2*time.Second, NewClient(WithTimeout(2*time.Second)).Timeout)
}

func TestNewClient_DefaultUserAgent(t *testing.T) {
	srv := echoUserAgent(t)
	got := get(t, NewClient(), srv.URL, nil)
	assert.True(t, strings.HasPrefix(got, "sensorpub/"), got)
}

func TestNewClient_UserAgentOverride(t *testing.T) {
	srv := echoUserAgent(t)
	assert.Equal(t, "probe/1.0", get(t, NewClient(WithUserAgent("probe/1.0")), srv.URL, nil))
}

func TestNewClient_ExistingUserAgentKept(t *testing.T) {
	srv := echoUserAgent(t)
	got := get(t, NewClient(), srv.URL, http.Header{"User-Agent": {"caller/2"}})
	assert.Equal(t, "caller/2", got)
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	assert.Equal(t, DefaultTLSHandshakeTimeout, tr.TLSHandshakeTimeout)
	assert.Equal(t, DefaultResponseHeader, tr.ResponseHeaderTimeout)
	assert.NotNil(t, tr.DialContext)
}

// flakyTransport fails the first n round trips with err.
type flakyTransport struct {
	n     int
	err   error
	calls int
	body  []string
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		f.body = append(f.body, string(b))
	}
	if f.calls <= f.n {
		return nil, f.err
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

func TestRetryTransport_RecoversFromRefused(t *testing.T) {
	base := &flakyTransport{n: 2, err: refused()}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

	req, err := http.NewRequest(http.MethodPut, "http://gateway.invalid/metrics", strings.NewReader("payload"))
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, base.calls)
	assert.Equal(t, []string{"payload", "payload", "payload"}, base.body, "body rewound for each attempt")
}

func TestRetryTransport_ExhaustsRetries(t *testing.T) {
	base := &flakyTransport{n: 10, err: refused()}
	rt := &retryTransport{base: base, count: 2, delay: time.Millisecond}

	req, err := http.NewRequest(http.MethodGet, "http://gateway.invalid/", nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, 3, base.calls)
}

func TestRetryTransport_NoRetryOnOtherErrors(t *testing.T) {
	base := &flakyTransport{n: 1, err: errors.New("tls: bad certificate")}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

	req, err := http.NewRequest(http.MethodGet, "http://gateway.invalid/", nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, 1, base.calls)
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	base := &flakyTransport{n: 1, err: refused()}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

	req, err := http.NewRequest(http.MethodPut, "http://gateway.invalid/", io.NopCloser(strings.NewReader("x")))
	require.NoError(t, err)
	req.GetBody = nil

	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, 1, base.calls)
}

func TestRetryTransport_RespectsCancellation(t *testing.T) {
	base := &flakyTransport{n: 10, err: refused()}
	rt := &retryTransport{base: base, count: 5, delay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://gateway.invalid/", nil)
	require.NoError(t, err)

	time.AfterFunc(10*time.Millisecond, cancel)
	_, err = rt.RoundTrip(req)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{syscall.ECONNREFUSED, true},
		{syscall.EHOSTUNREACH, true},
		{syscall.ENETUNREACH, true},
		{syscall.ECONNRESET, false},
		{refused(), true},
		{fmt.Errorf("push: %w", refused()), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}
