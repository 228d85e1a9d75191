package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestStatusAndResults(t *testing.T) {
	stub := newStub()
	stub.scores["h.wav"] = 3.3
	f := newFixture(t, stub, nil, nil)
	srv := httptest.NewServer(f.mon.Handler())
	defer srv.Close()

	f.audio("h.wav", 10)
	f.request("h.request", `{"wav_file":"h.wav"}`)
	f.mon.cycle(context.Background())

	resp, body := get(t, srv.URL+"/api/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "stub", st.Strategy)
	assert.Equal(t, uint64(1), st.Stats.Cycles)
	assert.Equal(t, uint64(1), st.Stats.Outcomes[OutcomeSuccess])

	resp, body = get(t, srv.URL+"/api/results")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var events []Event
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "result", events[0].Type)
	assert.Equal(t, "h.wav", events[0].WavFile)
	assert.Equal(t, 3.3, *events[0].Result.Score)

	resp, _ = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecentResultsRing(t *testing.T) {
	f := newFixture(t, newStub(), nil, nil)
	f.mon.config.RecentResults = 2
	for _, n := range []string{"a", "b", "c"} {
		f.audio(n+".wav", 1)
		f.request(n+".request", `{"wav_file":"`+n+`.wav"}`)
	}
	f.mon.cycle(context.Background())

	recent := f.mon.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "b.wav", recent[0].WavFile)
	assert.Equal(t, "c.wav", recent[1].WavFile)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "scorequeue_test_total", Help: "test"}))

	f := newFixture(t, newStub(), nil, nil)
	f.mon.config.Gatherer = reg
	srv := httptest.NewServer(f.mon.Handler())
	defer srv.Close()

	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "scorequeue_test_total")
}

func TestWebSocketStreamsResults(t *testing.T) {
	stub := newStub()
	stub.scores["ws.wav"] = 4.1
	f := newFixture(t, stub, nil, nil)
	srv := httptest.NewServer(f.mon.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscriber is registered once the upgrade handler returns.
	require.Eventually(t, func() bool {
		f.mon.hub.mu.Lock()
		defer f.mon.hub.mu.Unlock()
		return len(f.mon.hub.conns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	f.audio("ws.wav", 10)
	f.request("ws.request", `{"wav_file":"ws.wav"}`)
	f.mon.cycle(context.Background())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "result", ev.Type)
	assert.Equal(t, "ws.request", ev.Name)
	assert.Equal(t, 4.1, *ev.Result.Score)
}
