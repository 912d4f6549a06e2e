package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/climcp/internal/dispatch"
	"github.com/standardbeagle/climcp/internal/tools"
)

const initializeMsg = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg, err := tools.NewRegistry(
		tools.Entry{
			Spec: tools.Spec{
				Name:        "echo",
				Description: "echo the text back",
				Params: []tools.Param{
					{Name: "text", Type: tools.TypeString, Required: true, Description: "what to echo"},
					{Name: "times", Type: tools.TypeInteger},
					{Name: "delay", Type: tools.TypeNumber},
				},
			},
			Handler: tools.HandlerFunc(func(_ context.Context, args map[string]interface{}) (interface{}, error) {
				return map[string]interface{}{"stdout": args["text"], "resolved-interpreter": "sh"}, nil
			}),
		},
		tools.Entry{
			Spec: tools.Spec{Name: "refuse", Params: []tools.Param{{Name: "n", Type: tools.TypeNumber}}},
			Handler: tools.HandlerFunc(func(context.Context, map[string]interface{}) (interface{}, error) {
				return nil, dispatch.InvalidArgument("refuse", "n", "always refused")
			}),
		},
	)
	require.NoError(t, err)
	return NewServer(dispatch.New(reg, dispatch.Options{}), Options{Name: "test-server", Version: "1.2.3"})
}

// roundTrip sends raw through HandleMessage and returns the decoded response.
func roundTrip(t *testing.T, s *Server, raw string) map[string]interface{} {
	t.Helper()
	resp := s.HandleMessage(context.Background(), json.RawMessage(raw))
	require.NotNil(t, resp)
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func toolText(t *testing.T, msg map[string]interface{}) (string, bool) {
	t.Helper()
	result, ok := msg["result"].(map[string]interface{})
	require.True(t, ok, "no result in %v", msg)
	content, ok := result["content"].([]interface{})
	require.True(t, ok)
	require.Len(t, content, 1)
	block := content[0].(map[string]interface{})
	assert.Equal(t, "text", block["type"])
	isError, _ := result["isError"].(bool)
	return block["text"].(string), isError
}

func TestToolsListExposesSchemas(t *testing.T) {
	s := newTestServer(t)
	roundTrip(t, s, initializeMsg)

	msg := roundTrip(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	result := msg["result"].(map[string]interface{})
	list := result["tools"].([]interface{})
	require.Len(t, list, 2)

	byName := map[string]map[string]interface{}{}
	for _, raw := range list {
		tool := raw.(map[string]interface{})
		byName[tool["name"].(string)] = tool
	}
	require.Contains(t, byName, "echo")
	assert.Equal(t, "echo the text back", byName["echo"]["description"])

	schema := byName["echo"]["inputSchema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []interface{}{"text"}, schema["required"])

	props := schema["properties"].(map[string]interface{})
	assert.Equal(t, "string", props["text"].(map[string]interface{})["type"])
	assert.Equal(t, "what to echo", props["text"].(map[string]interface{})["description"])
	assert.Equal(t, "integer", props["times"].(map[string]interface{})["type"])
	assert.Equal(t, "number", props["delay"].(map[string]interface{})["type"])
}

func TestToolsCallReturnsResultJSON(t *testing.T) {
	s := newTestServer(t)
	roundTrip(t, s, initializeMsg)

	msg := roundTrip(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`)
	text, isError := toolText(t, msg)
	assert.False(t, isError)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &body))
	assert.Equal(t, "hello", body["stdout"])
	assert.Equal(t, "sh", body["resolved-interpreter"])
}

func TestToolsCallValidationFailureIsToolError(t *testing.T) {
	s := newTestServer(t)
	roundTrip(t, s, initializeMsg)

	msg := roundTrip(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{"times":2}}}`)
	text, isError := toolText(t, msg)
	assert.True(t, isError)

	var body errorBody
	require.NoError(t, json.Unmarshal([]byte(text), &body))
	assert.Equal(t, dispatch.StateRejected, body.State)
	require.NotNil(t, body.Error)
	assert.Equal(t, dispatch.CodeInvalidArguments, body.Error.Code)
	assert.Equal(t, "text", body.Error.Param)
	assert.NotEmpty(t, body.ID)
}

func TestToolsCallHandlerRequestError(t *testing.T) {
	s := newTestServer(t)
	roundTrip(t, s, initializeMsg)

	msg := roundTrip(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"refuse","arguments":{}}}`)
	text, isError := toolText(t, msg)
	assert.True(t, isError)
	assert.Contains(t, text, "always refused")
}

func TestServeStdio(t *testing.T) {
	s := newTestServer(t)
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeStdio(ctx, inR, outW) }()

	lines := bufio.NewReader(outR)
	readFrame := func() map[string]interface{} {
		line, err := lines.ReadBytes('\n')
		require.NoError(t, err)
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &msg), "frame %q", line)
		return msg
	}

	_, err := io.WriteString(inW, initializeMsg+"\n")
	require.NoError(t, err)
	msg := readFrame()
	assert.Equal(t, float64(1), msg["id"])
	info := msg["result"].(map[string]interface{})["serverInfo"].(map[string]interface{})
	assert.Equal(t, "test-server", info["name"])
	assert.Equal(t, "1.2.3", info["version"])

	_, err = io.WriteString(inW, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`+"\n")
	require.NoError(t, err)
	msg = readFrame()
	assert.Equal(t, float64(2), msg["id"])
	text, isError := toolText(t, msg)
	assert.False(t, isError)
	assert.Contains(t, text, `"stdout":"hi"`)

	go func() { _, _ = io.Copy(io.Discard, outR) }()
	cancel()
	inW.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stdio server did not stop after cancel")
	}
	outW.Close()
}

func TestHTTPSingleAndBatch(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	post := func(body string) (*http.Response, []byte) {
		resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, data
	}

	resp, data := post(initializeMsg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var single map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &single))
	assert.Equal(t, float64(1), single["id"])

	resp, data = post(`[
		{"jsonrpc":"2.0","id":10,"method":"tools/list"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"echo","arguments":{"text":"batch"}}}
	]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var batch []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &batch))
	require.Len(t, batch, 2, "notifications get no response")
	assert.Equal(t, float64(10), batch[0]["id"])
	assert.Equal(t, float64(11), batch[1]["id"])

	resp, data = post(`[{"jsonrpc":`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(data, []byte(`"code":-32700`)), string(data))
}

func TestHTTPHealthAndMethods(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, []interface{}{"echo", "refuse"}, health["tools"])

	get, err := http.Get(ts.URL + "/mcp")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}
