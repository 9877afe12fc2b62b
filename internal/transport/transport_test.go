package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lexsf/azul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() (*Server, *httptest.Server) {
	s := NewServer(0, time.Minute)
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/poll", s.handlePoll)
	mux.HandleFunc("/disconnect", s.handleDisconnect)
	return s, httptest.NewServer(withCORS(mux))
}

func TestLongPoll_ConnectSendPoll(t *testing.T) {
	s, ts := newTestServer()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/connect")
	require.NoError(t, err)
	var connectResp map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&connectResp))
	resp.Body.Close()
	clientID := connectResp["clientId"]
	require.NotEmpty(t, clientID)

	require.NoError(t, s.Send(api.Envelope{Type: api.TagPong}))

	pollResp, err := http.Get(ts.URL + "/poll?clientId=" + clientID)
	require.NoError(t, err)
	var envs []api.Envelope
	require.NoError(t, json.NewDecoder(pollResp.Body).Decode(&envs))
	pollResp.Body.Close()
	require.Len(t, envs, 1)
	assert.Equal(t, api.TagPong, envs[0].Type)
}

func TestLongPoll_SendDeliversToInbound(t *testing.T) {
	s, ts := newTestServer()
	defer ts.Close()

	body, _ := json.Marshal(api.Envelope{Type: api.TagPing})
	resp, err := http.Post(ts.URL+"/send", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case env := <-s.Inbound():
		assert.Equal(t, api.TagPing, env.Type)
	case <-time.After(time.Second):
		t.Fatal("expected envelope on Inbound()")
	}
}

func TestLongPoll_SecondConnectPreemptsFirst(t *testing.T) {
	s, ts := newTestServer()
	defer ts.Close()

	resp1, err := http.Get(ts.URL + "/connect")
	require.NoError(t, err)
	var c1 map[string]string
	json.NewDecoder(resp1.Body).Decode(&c1)
	resp1.Body.Close()

	resp2, err := http.Get(ts.URL + "/connect")
	require.NoError(t, err)
	var c2 map[string]string
	json.NewDecoder(resp2.Body).Decode(&c2)
	resp2.Body.Close()

	// First client's poll should now be rejected as superseded.
	pollResp, err := http.Get(ts.URL + "/poll?clientId=" + c1["clientId"])
	require.NoError(t, err)
	defer pollResp.Body.Close()
	assert.Equal(t, http.StatusGone, pollResp.StatusCode)
}
