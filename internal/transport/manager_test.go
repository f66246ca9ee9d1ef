package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/aiplatform/internal/catalog"
	"github.com/stellarlinkco/aiplatform/internal/config"
	"github.com/stellarlinkco/aiplatform/internal/platform"
	"github.com/stellarlinkco/aiplatform/internal/store"
)

func newTestAPI() *API {
	backend := store.NewInMem()
	cat := catalog.New("", "", nil)
	return NewAPI(platform.New(backend.Memory(), backend.Plans(), cat), APIOptions{})
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Transports.Select(NameFramework, NameRaw, NameRouter)
	return cfg
}

func get(t *testing.T, client *http.Client, url string) (int, string) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestManager_StartStopAll(t *testing.T) {
	m, err := NewManager(testConfig(), newTestAPI())
	require.NoError(t, err)
	assert.Equal(t, []string{NameFramework, NameRaw, NameRouter}, m.Enabled())

	require.NoError(t, m.StartAll(context.Background()))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	defer client.CloseIdleConnections()

	for _, name := range m.Enabled() {
		tr, ok := m.Get(name)
		require.True(t, ok)
		status, body := get(t, client, "http://"+tr.Addr()+"/health")
		assert.Equal(t, http.StatusOK, status, name)
		assert.Contains(t, body, `"status":"healthy"`)
	}

	require.NoError(t, m.StopAll())

	for _, name := range m.Enabled() {
		tr, _ := m.Get(name)
		_, err := client.Get("http://" + tr.Addr() + "/health")
		assert.Error(t, err, "%s should be closed", name)
	}
}

func TestManager_StartAllBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	cfg := testConfig()
	cfg.Transports.Select(NameRaw)
	cfg.Transports.Raw.Port = mustAtoi(t, port)

	m, err := NewManager(cfg, newTestAPI())
	require.NoError(t, err)
	err = m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw")
}

func TestTransport_DoubleStart(t *testing.T) {
	tr, err := New(NameRaw, "127.0.0.1:0", newTestAPI(), ServerOptions{})
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	assert.Error(t, tr.Start(context.Background()))
	assert.NotEqual(t, "127.0.0.1:0", tr.Addr())
}

func TestTransport_StopBeforeStart(t *testing.T) {
	tr, err := New(NameRouter, "127.0.0.1:0", newTestAPI(), ServerOptions{})
	require.NoError(t, err)
	assert.NoError(t, tr.Stop())
	assert.Equal(t, NameRouter, tr.Name())
	assert.NotNil(t, tr.Handler())
}

func TestTransport_AsteriskOptions(t *testing.T) {
	for _, name := range []string{NameFramework, NameRaw, NameRouter} {
		t.Run(name, func(t *testing.T) {
			tr, err := New(name, "127.0.0.1:0", newTestAPI(), ServerOptions{})
			require.NoError(t, err)
			require.NoError(t, tr.Start(context.Background()))
			defer tr.Stop()

			conn, err := net.Dial("tcp", tr.Addr())
			require.NoError(t, err)
			defer conn.Close()

			_, err = fmt.Fprint(conn, "OPTIONS * HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
			require.NoError(t, err)

			resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
			assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "OPTIONS")
		})
	}
}
