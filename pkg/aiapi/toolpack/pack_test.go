package toolpack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

const weatherPackJSON = `{
  "description": "Weather lookups",
  "servers": [{"url": "https://weather.example.com/"}],
  "endpoints": [
    ["GET /weather/{city}", "getWeather", "Current weather",
      {"parameters": [{"name": "city", "in": "path", "required": true}]}],
    {"route": "POST /alerts", "operationId": "createAlert",
      "parameters": [{"name": "dryRun", "in": "query"}],
      "requestBody": {"content": {"application/json": {"schema": {"properties": {"city": {"type": "string"}}}}}}}
  ],
  "functions": [
    {"name": "getWeather", "parameters": {"type": "object", "properties": {"city": {"type": "string"}}}},
    {"name": "createAlert", "parameters": {"type": "object", "properties": {"city": {"type": "string"}}}}
  ]
}`

func TestPack_UnmarshalEndpoints(t *testing.T) {
	var p Pack
	require.NoError(t, json.Unmarshal([]byte(weatherPackJSON), &p))

	require.Len(t, p.Endpoints, 2)
	get := p.Endpoints[0]
	assert.Equal(t, "GET", get.Method)
	assert.Equal(t, "/weather/{city}", get.Path)
	assert.Equal(t, "getWeather", get.OperationID)
	assert.Equal(t, "Current weather", get.Summary)
	require.Len(t, get.Details.Parameters, 1)
	assert.Equal(t, InPath, get.Details.Parameters[0].In)
	assert.Nil(t, get.BodyProperties())

	post := p.Endpoints[1]
	assert.Equal(t, "POST", post.Method)
	assert.Equal(t, "/alerts", post.Path)
	assert.Contains(t, post.BodyProperties(), "city")

	assert.Equal(t, "https://weather.example.com", p.BaseURL())
	assert.NoError(t, p.Validate())
}

func TestEndpoint_UnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"too short", `["GET /x"]`},
		{"bad route", `["/x", "op"]`},
		{"bad route object", `{"route": "GET", "operationId": "op"}`},
		{"wrong types", `[1, 2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Endpoint
			assert.Error(t, json.Unmarshal([]byte(tt.data), &e))
		})
	}
}

func TestEndpoint_MarshalPositional(t *testing.T) {
	e := Endpoint{Method: "GET", Path: "/x", OperationID: "op", Summary: "s"}
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var back Endpoint
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e.Method, back.Method)
	assert.Equal(t, e.Path, back.Path)
	assert.Equal(t, e.OperationID, back.OperationID)
}

func TestPack_Lookups(t *testing.T) {
	var p Pack
	require.NoError(t, json.Unmarshal([]byte(weatherPackJSON), &p))

	_, ok := p.FindEndpoint("createAlert")
	assert.True(t, ok)
	_, ok = p.FindEndpoint("missing")
	assert.False(t, ok)

	assert.True(t, p.HasFunction("getWeather"))
	assert.False(t, p.HasFunction("missing"))
	assert.Len(t, p.FunctionsByName("getWeather", "missing"), 1)
}

func TestPack_ValidateRejectsBadFunctions(t *testing.T) {
	p := Pack{ID: "bad", Functions: []tools.Spec{{Name: "has space"}}}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidSpec))
}

func TestCatalog_FirstMatchWins(t *testing.T) {
	c := NewCatalog()
	first := &Pack{ID: "a", Functions: []tools.Spec{{Name: "shared"}}}
	second := &Pack{ID: "b", Functions: []tools.Spec{{Name: "shared"}, {Name: "only-b"}}}
	c.Add(first)
	c.Add(second)

	got, ok := c.FindByFunction("shared")
	require.True(t, ok)
	assert.Same(t, first, got)

	got, ok = c.FindByFunction("only-b")
	require.True(t, ok)
	assert.Same(t, second, got)

	got, ok = c.FindByID("b")
	require.True(t, ok)
	assert.Same(t, second, got)

	_, ok = c.FindByID("c")
	assert.False(t, ok)
	assert.Len(t, c.Packs(), 2)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "weather.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
description: Weather lookups
servers:
  - url: https://weather.example.com
endpoints:
  - ["GET /weather/{city}", getWeather, Current weather, {parameters: [{name: city, in: path}]}]
functions:
  - name: getWeather
    parameters:
      type: object
      properties:
        city: {type: string}
`), 0o644))

	p, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "weather", p.ID)
	require.Len(t, p.Endpoints, 1)
	assert.Equal(t, "/weather/{city}", p.Endpoints[0].Path)

	out := filepath.Join(dir, "copy.yaml")
	require.NoError(t, WriteFile(out, p))
	again, err := LoadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "weather", again.ID)
	assert.Equal(t, p.Endpoints[0].OperationID, again.Endpoints[0].OperationID)
	assert.Equal(t, p.Functions[0].Name, again.Functions[0].Name)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, apperrors.ErrCodePackNotFound, apperrors.CodeOf(err))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"endpoints": [["nope"]]}`), 0o644))
	_, err = LoadFile(bad)
	assert.Equal(t, apperrors.ErrCodeInvalidSpec, apperrors.CodeOf(err))
}
