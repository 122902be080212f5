// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/espgate/core/client"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/iot/commands"
	"github.com/relabs-tech/espgate/iot/control"
	"github.com/relabs-tech/espgate/iot/hub"
	"github.com/relabs-tech/espgate/iot/state"
)

type gateway struct {
	router *mux.Router
	store  *state.Store
	client client.Client
}

func newGateway() *gateway {
	store := state.NewStore(state.Default())
	controller := control.MustNewController(&control.Builder{Store: store, Queue: commands.NewQueue()})
	h := hub.MustNewHub(&hub.Builder{Controller: controller})
	store.AddObserver(h)

	router := mux.NewRouter()
	logger.AddRequestID(router)
	MustNewAPI(&Builder{Router: router, Controller: controller, WebSocket: h})
	return &gateway{router: router, store: store, client: client.NewWithRouter(router)}
}

func (g *gateway) status(t *testing.T) state.DeviceState {
	t.Helper()
	var s state.DeviceState
	_, err := g.client.RawGet("/status", &s)
	require.NoError(t, err)
	return s
}

func TestBuilderPanics(t *testing.T) {
	assert.PanicsWithValue(t, "Router is missing", func() { MustNewAPI(&Builder{}) })
	assert.PanicsWithValue(t, "Controller is missing", func() { MustNewAPI(&Builder{Router: mux.NewRouter()}) })
}

func TestInitialStatus(t *testing.T) {
	g := newGateway()
	var raw []byte
	status, err := g.client.RawGet("/status", &raw)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"gas":0,"light":0,"fan":false,"pump":false,"buzzer":false,"relay":false,
		"led":false,"servo":90,"lcd":{"line1":"ESP32 Ready","line2":"Waiting..."}}`, string(raw))
}

func TestFanScenario(t *testing.T) {
	g := newGateway()

	var raw []byte
	status, err := g.client.RawPost("/fan", map[string]bool{"state": true}, &raw)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"success":true,"fan":true}`, string(raw))

	assert.True(t, g.status(t).Fan)

	var pending map[string]interface{}
	_, err = g.client.RawGet("/esp/commands", &pending)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"fan": true}, pending)

	_, err = g.client.RawGet("/esp/commands", &raw)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}

func TestSwitchTruthiness(t *testing.T) {
	g := newGateway()

	var raw []byte
	_, err := g.client.RawPost("/pump", map[string]interface{}{"state": 1}, &raw)
	require.NoError(t, err)
	assert.Equal(t, `{"success":true,"pump":true}`, string(raw))

	_, err = g.client.RawPost("/pump", map[string]interface{}{}, &raw)
	require.NoError(t, err)
	assert.Equal(t, `{"success":true,"pump":false}`, string(raw))

	_, err = g.client.RawPost("/led", map[string]interface{}{"state": "on"}, &raw)
	require.NoError(t, err)
	assert.Equal(t, `{"success":true,"led":true}`, string(raw))
	assert.True(t, g.status(t).LED)
}

func TestServoClamp(t *testing.T) {
	g := newGateway()

	var raw []byte
	_, err := g.client.RawPost("/servo", map[string]int{"angle": 250}, &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"servo":180}`, string(raw))
	assert.Equal(t, 180, g.status(t).Servo)

	var pending map[string]interface{}
	_, err = g.client.RawGet("/esp/commands", &pending)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"servo": float64(180)}, pending)

	_, err = g.client.RawPost("/servo", map[string]int{"angle": -20}, &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"servo":0}`, string(raw))
}

func TestServoWithoutAngle(t *testing.T) {
	g := newGateway()

	var raw []byte
	_, err := g.client.RawPost("/servo", map[string]string{"position": "left"}, &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"servo":90}`, string(raw))

	_, err = g.client.RawPost("/servo", map[string]string{"angle": "abc"}, &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"servo":90}`, string(raw))

	_, err = g.client.RawGet("/esp/commands", &raw)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}

func TestDeviceReport(t *testing.T) {
	g := newGateway()

	var raw []byte
	_, err := g.client.RawPost("/esp/status", []byte(`{"gas":420,"light":77,"fan":true,"relay":true,
		"servo":400,"lcd":{"line1":"Hello"},"unknown":1}`), &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(raw))

	s := g.status(t)
	assert.Equal(t, 420, s.Gas)
	assert.Equal(t, 77, s.Light)
	assert.True(t, s.Fan)
	assert.False(t, s.Relay, "relay is never taken from the device")
	assert.Equal(t, 180, s.Servo)
	assert.Equal(t, state.LCD{Line1: "Hello", Line2: "Waiting..."}, s.LCD)

	// a device report is not a command
	_, err = g.client.RawGet("/esp/commands", &raw)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}

func TestMalformedDeviceReport(t *testing.T) {
	g := newGateway()
	before := g.status(t)

	for _, body := range []string{`{"gas":`, `null`, `[1,2]`, `"gas"`, ``} {
		res, err := g.client.Do(http.MethodPost, "/esp/status", nil, []byte(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, res.Status, body)
		assert.JSONEq(t, `{"error":"Invalid JSON"}`, string(res.Body), body)
	}
	assert.Equal(t, before, g.status(t))

	res, err := g.client.Do(http.MethodPost, "/fan", nil, []byte(`{nope`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.False(t, g.status(t).Fan)
}

func TestNotFoundAndCORS(t *testing.T) {
	g := newGateway()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nowhere"},
		{http.MethodPost, "/status"},
		{http.MethodGet, "/fan"},
		{http.MethodDelete, "/servo"},
	} {
		res, err := g.client.Do(tc.method, tc.path, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, res.Status, tc.method+" "+tc.path)
		assert.JSONEq(t, `{"error":"Not Found"}`, string(res.Body))
		assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	}

	res, err := g.client.Do(http.MethodOptions, "/anything/at/all", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", res.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", res.Header.Get("Access-Control-Allow-Headers"))

	res, err = g.client.Do(http.MethodGet, "/status", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
}

func TestVersionAndMetrics(t *testing.T) {
	g := newGateway()

	var version map[string]string
	_, err := g.client.RawGet("/version", &version)
	require.NoError(t, err)
	assert.Equal(t, Version, version["version"])

	_, err = g.client.RawPost("/buzzer", map[string]bool{"state": true}, nil)
	require.NoError(t, err)

	var raw []byte
	_, err = g.client.RawGet("/metrics", &raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "espgate_state_merges_total")
	assert.Contains(t, string(raw), "espgate_commands_enqueued_total")
}

func TestWebSocketOnAnyPath(t *testing.T) {
	g := newGateway()
	srv := httptest.NewServer(g.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/some/page"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	expected, err := g.store.Get().JSON()
	require.NoError(t, err)
	assert.Equal(t, string(expected), string(msg))

	// a REST command reaches the websocket client
	_, err = client.NewWithURL(srv.URL).RawPost("/relay", map[string]bool{"state": true}, nil)
	require.NoError(t, err)
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	var s state.DeviceState
	require.NoError(t, json.Unmarshal(msg, &s))
	assert.True(t, s.Relay)
}
