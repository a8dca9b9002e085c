package endpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maiteclab/sheetgpt/internal/config"
	"github.com/maiteclab/sheetgpt/internal/jobcfg"
	"github.com/maiteclab/sheetgpt/internal/providers"
	"github.com/maiteclab/sheetgpt/internal/runner"
	"github.com/maiteclab/sheetgpt/internal/svcctx"
	"github.com/maiteclab/sheetgpt/internal/testutil"
)

// testServices wires services around a mock-provider config. mock replaces
// the configured mock client when non-nil.
func testServices(t *testing.T, mock *providers.MockClient) *svcctx.Services {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cm, err := config.NewManager(testutil.WriteMockConfig(t, ""))
	require.NoError(t, err)

	logger := testutil.DiscardLogger()
	registry := providers.NewRegistry()
	registry.SetLogger(logger)
	registry.Reload(cm.Get().ToRegistryConfig())
	if mock != nil {
		registry.Register(testutil.MockProvider, mock)
	}

	return &svcctx.Services{
		Registry: registry,
		Config:   cm,
		Runner:   runner.New(jobcfg.NewBuilder(cm.Get, registry, logger), logger),
		Logger:   logger,
	}
}

// serve routes req through every endpoint with svc in the request context.
func serve(t *testing.T, svc *svcctx.Services, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	for _, ep := range All(Config{SwaggerSpecPath: filepath.Join(t.TempDir(), "missing.json")}) {
		method, path, handler := ep.Route()
		mux.HandleFunc(method+" "+path, handler)
	}
	if svc != nil {
		req = req.WithContext(svcctx.WithServices(req.Context(), svc))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func formRequest(t *testing.T, path string, fields map[string]string, files ...testutil.FormFile) *http.Request {
	t.Helper()
	body, contentType := testutil.MultipartForm(t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func peopleWorkbook(t *testing.T) testutil.FormFile {
	return testutil.FormFile{Field: "data", Name: "people.xlsx", Data: testutil.Workbook(t, [][]any{
		{"ID", "Text"},
		{1, "Ann is 34"},
		{2, "Bo is 51"},
		{3, "unreachable"},
		{4, "Cy is 27"},
	})}
}

func TestHealthEndpoint(t *testing.T) {
	rec := serve(t, nil, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStatusEndpoint(t *testing.T) {
	rec := serve(t, testServices(t, nil), httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "running", resp.Server)
	assert.Equal(t, []string{testutil.MockProvider}, resp.Providers)
	assert.Equal(t, testutil.MockProvider, resp.DefaultProvider)
	assert.Equal(t, "mock-model", resp.DefaultModel)
	assert.Equal(t, 1, resp.Workers)
	assert.Equal(t, "none", resp.ResponseFormat)
}

func TestColumnsEndpoint(t *testing.T) {
	t.Run("preview", func(t *testing.T) {
		rec := serve(t, nil, formRequest(t, "/api/columns", map[string]string{"preview": "2"}, peopleWorkbook(t)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp ColumnsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "Sheet1", resp.Sheet)
		assert.Equal(t, 4, resp.Rows)
		assert.Equal(t, []string{"ID", "Text"}, resp.Columns)
		assert.Equal(t, []any{"Ann is 34", "Bo is 51"}, resp.Preview["Text"])
		assert.Equal(t, []any{float64(1), float64(2)}, resp.Preview["ID"])
	})

	t.Run("no preview", func(t *testing.T) {
		rec := serve(t, nil, formRequest(t, "/api/columns", map[string]string{"preview": "0"}, peopleWorkbook(t)))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ColumnsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Nil(t, resp.Preview)
	})

	t.Run("errors", func(t *testing.T) {
		rec := serve(t, nil, formRequest(t, "/api/columns", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = serve(t, nil, formRequest(t, "/api/columns", map[string]string{"preview": "-1"}, peopleWorkbook(t)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		bad := testutil.FormFile{Field: "data", Name: "bad.xlsx", Data: []byte("not a workbook")}
		rec = serve(t, nil, formRequest(t, "/api/columns", nil, bad))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = serve(t, nil, httptest.NewRequest(http.MethodPost, "/api/columns", bytes.NewBufferString("{}")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestParseFormat(t *testing.T) {
	resp, err := ParseFormat("Name: string\nBlood type: string(A,B,O,AB)\nnote without colon\nAge: integer")
	require.NoError(t, err)
	assert.Equal(t, []FormatField{
		{Name: "Name", Values: "", Type: "string"},
		{Name: "Blood type", Values: "A,B,O,AB", Type: "string"},
		{Name: "Age", Values: "", Type: "integer"},
	}, resp.Fields)
	assert.Empty(t, resp.Warning)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(resp.Schema, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"], "Blood type")

	empty, err := ParseFormat("just prose")
	require.NoError(t, err)
	assert.Empty(t, empty.Fields)
	assert.NotEmpty(t, empty.Warning)
	assert.Nil(t, empty.Schema)
}

func TestParseFormatEndpoint(t *testing.T) {
	body, err := json.Marshal(ParseFormatRequest{OutputFormat: "Married: boolean"})
	require.NoError(t, err)

	rec := serve(t, nil, httptest.NewRequest(http.MethodPost, "/api/formats/parse", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ParseFormatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "boolean", resp.Fields[0].Type)

	rec = serve(t, nil, httptest.NewRequest(http.MethodPost, "/api/formats/parse", bytes.NewBufferString("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractEndpoint(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Replies = map[string]string{
		"Ann": `{"Name": "Ann", "Age": 34}`,
		"Bo":  `{"Name": "Bo", "Age": 51}`,
		"Cy":  `{"Name": "Cy", "Age": 27}`,
	}
	mock.Errors = map[string]error{"unreachable": fmt.Errorf("%w: upstream down", providers.ErrUnavailable)}
	svc := testServices(t, mock)

	rec := serve(t, svc, formRequest(t, "/api/extract",
		map[string]string{
			"instruction":  "Extract the person.",
			"id_column":    "ID",
			"input_column": "Text",
			"workers":      "2",
		},
		peopleWorkbook(t),
		testutil.FormFile{Field: "output_format_file", Name: "format.txt", Data: []byte("Name: string\nAge: integer")},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	h := rec.Header()
	assert.Equal(t, XLSXContentType, h.Get("Content-Type"))
	assert.Equal(t, "3", h.Get(HeaderSucceededRows))
	assert.Equal(t, "1", h.Get(HeaderFailedRows))
	assert.Equal(t, "0", h.Get(HeaderSkippedRows))
	assert.Equal(t, "mock-model", h.Get(HeaderModel))
	assert.Equal(t, "2", h.Get(HeaderWorkers))
	assert.Empty(t, h.Get(HeaderAborted))
	assert.Contains(t, h.Get("Content-Disposition"), "people_mock-model_responses_")

	rows := testutil.SheetRows(t, rec.Body.Bytes(), "Output")
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"ID", "Name", "Age", "error"}, rows[0])
	assert.Equal(t, []string{"1", "Ann", "34"}, rows[1])
	assert.Equal(t, "3", rows[3][0])
	assert.Contains(t, rows[3][3], "model request failed")
	assert.Equal(t, []string{"4", "Cy", "27"}, rows[4])
}

func TestExtractEndpoint_WorkersCapped(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseText = `{"Name": "x"}`
	svc := testServices(t, mock)

	rec := serve(t, svc, formRequest(t, "/api/extract",
		map[string]string{
			"instruction":   "Extract.",
			"output_format": "Name: string",
			"id_column":     "ID",
			"input_column":  "Text",
			"workers":       "100000",
		},
		peopleWorkbook(t),
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "16", rec.Header().Get(HeaderWorkers), "run.max_workers bounds the pool")
	assert.Equal(t, "4", rec.Header().Get(HeaderSucceededRows))
}

func TestExtractEndpoint_Aborted(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseText = `{"Name": "x"}`
	mock.Errors = map[string]error{"Bo": fmt.Errorf("%w: invalid api key", providers.ErrUnauthorized)}
	svc := testServices(t, mock)

	rec := serve(t, svc, formRequest(t, "/api/extract",
		map[string]string{
			"instruction":   "Extract.",
			"output_format": "Name: string",
			"id_column":     "ID",
			"input_column":  "Text",
		},
		peopleWorkbook(t),
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderAborted))
	assert.NotEmpty(t, rec.Body.Bytes(), "a partial workbook is still returned")
}

func TestExtractEndpoint_BadRequests(t *testing.T) {
	svc := testServices(t, nil)

	tests := []struct {
		name   string
		fields map[string]string
		files  []testutil.FormFile
	}{
		{
			name:   "missing everything",
			fields: map[string]string{},
		},
		{
			name:   "bad workers",
			fields: map[string]string{"workers": "zero"},
			files:  []testutil.FormFile{peopleWorkbook(t)},
		},
		{
			name: "unknown column",
			fields: map[string]string{
				"instruction":  "Go.",
				"id_column":    "Nope",
				"input_column": "Text",
			},
			files: []testutil.FormFile{peopleWorkbook(t)},
		},
		{
			name: "unknown provider",
			fields: map[string]string{
				"instruction":  "Go.",
				"id_column":    "ID",
				"input_column": "Text",
				"provider":     "nowhere",
			},
			files: []testutil.FormFile{peopleWorkbook(t)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, svc, formRequest(t, "/api/extract", tt.fields, tt.files...))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestExtractEndpoint_NoRunner(t *testing.T) {
	rec := serve(t, nil, formRequest(t, "/api/extract", nil, peopleWorkbook(t)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSettingsEndpoint(t *testing.T) {
	svc := testServices(t, nil)
	require.NoError(t, svc.Config.Set("providers.openai.api_key", "sk-abcdefghijklmnop"))

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ConfigFile string `json:"config_file"`
		Settings   struct {
			Providers map[string]struct {
				APIKey string `json:"api_key"`
			} `json:"providers"`
		} `json:"settings"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ConfigFile)
	assert.Equal(t, "sk-a...mnop", resp.Settings.Providers["openai"].APIKey)
	assert.Equal(t, "${GEMINI_API_KEY}", resp.Settings.Providers["gemini"].APIKey)

	rec = serve(t, nil, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSwaggerEndpoint(t *testing.T) {
	rec := serve(t, nil, httptest.NewRequest(http.MethodGet, "/swagger.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	path := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"swagger":"2.0"}`), 0o644))
	ep := &SwaggerEndpoint{SpecPath: path}
	_, _, handler := ep.Route()

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/swagger.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"swagger":"2.0"}`, rec.Body.String())
}

func TestAll_CommandsBuild(t *testing.T) {
	for _, ep := range All(Config{}) {
		method, path, _ := ep.Route()
		assert.NotEmpty(t, method)
		assert.NotEmpty(t, path)
		cmd := ep.Command(func() string { return "http://127.0.0.1:1" })
		require.NotNil(t, cmd, path)
		assert.NotEmpty(t, cmd.Short, path)
	}
}
