package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/abel-garcia/comfyui-webhook-http/folderpaths"
	"github.com/abel-garcia/comfyui-webhook-http/imagebatch"
	"github.com/abel-garcia/comfyui-webhook-http/nodes"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	router, _ := testRouterWithPaths(t)
	return router
}

func testRouterWithPaths(t *testing.T) (*gin.Engine, *folderpaths.Paths) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	paths := folderpaths.NewPaths(t.TempDir(), t.TempDir())
	reg := nodes.NewRegistry(nodes.NewDeps(paths, 0, nil))
	return NewRouter(reg, nil).SetupRoutes(), paths
}

func do(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func base64PNG(t *testing.T) string {
	t.Helper()
	img := imagebatch.New(2, 2, 3)
	for i := range img.Pix {
		img.Pix[i] = 0.5
	}
	var buf bytes.Buffer
	require.NoError(t, img.EncodePNG(&buf))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestObjectInfo(t *testing.T) {
	router := testRouter(t)

	w, out := do(t, router, http.MethodGet, "/object_info", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{
		"ImageCreationNotifier",
		"ImageWebhookNotifier",
		"SaveImageWebhook",
		"RefinerStepSplitter",
	}, out["names"])
	assert.Len(t, out["nodes"], 4)

	w, out = do(t, router, http.MethodGet, "/object_info/RefinerStepSplitter", "")
	assert.Equal(t, http.StatusOK, w.Code)
	info := out["RefinerStepSplitter"].(map[string]interface{})
	assert.Equal(t, "Refiner Step Splitter", info["display_name"])
	assert.Equal(t, []interface{}{"steps", "refiner_start"}, info["output_name"])

	w, out = do(t, router, http.MethodGet, "/object_info/Nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, out["error"], "unknown node")
}

func TestExecuteRefinerStepSplitter(t *testing.T) {
	router := testRouter(t)

	w, out := do(t, router, http.MethodPost, "/execute/RefinerStepSplitter",
		`{"inputs": {"steps": 30, "base_ratio": 0.5}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{float64(30), float64(15)}, out["outputs"])
	assert.NotEmpty(t, out["prompt_id"])

	w, out = do(t, router, http.MethodPost, "/execute/RefinerStepSplitter",
		`{"inputs": {"steps": 20, "base_ratio": 0.8}, "hidden": {"prompt_id": "fixed"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{float64(20), float64(16)}, out["outputs"])
	assert.Equal(t, "fixed", out["prompt_id"])

	// required inputs are not filled from defaults
	w, out = do(t, router, http.MethodPost, "/execute/RefinerStepSplitter", `{"inputs": {"steps": 20}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, out["error"], "base_ratio")
}

func TestExecuteMissingWebhookURLWritesNothing(t *testing.T) {
	router, paths := testRouterWithPaths(t)
	body, _ := json.Marshal(map[string]interface{}{
		"inputs": map[string]interface{}{},
		"images": []string{base64PNG(t)},
	})

	for _, node := range []string{"ImageCreationNotifier", "ImageWebhookNotifier", "SaveImageWebhook"} {
		w, out := do(t, router, http.MethodPost, "/execute/"+node, string(body))
		assert.Equal(t, http.StatusBadRequest, w.Code, node)
		assert.Contains(t, out["error"], "missing required input", node)
	}

	for _, dir := range []string{paths.OutputDir, paths.TempDir} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestExecuteImageWebhookNotifier(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()
	router := testRouter(t)

	body, _ := json.Marshal(map[string]interface{}{
		"inputs": map[string]interface{}{"webhook_url": hook.URL, "metadata": "m"},
		"images": []string{base64PNG(t)},
	})
	w, out := do(t, router, http.MethodPost, "/execute/ImageWebhookNotifier", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	outputs := out["outputs"].([]interface{})
	require.Len(t, outputs, 1)
	images := outputs[0].([]interface{})
	require.Len(t, images, 1)
	data, err := base64.StdEncoding.DecodeString(images[0].(string))
	require.NoError(t, err)
	img, err := imagebatch.DecodePNG(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width)
}

func TestExecuteErrors(t *testing.T) {
	router := testRouter(t)

	w, _ := do(t, router, http.MethodPost, "/execute/Nope", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, router, http.MethodPost, "/execute/RefinerStepSplitter", `{"inputs": [`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out := do(t, router, http.MethodPost, "/execute/ImageWebhookNotifier", `{"images": ["***"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, out["error"], "invalid base64")

	w, _ = do(t, router, http.MethodPost, "/execute/ImageWebhookNotifier", `{"inputs": {"webhook_url": "http://127.0.0.1:1"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ := json.Marshal(map[string]interface{}{
		"inputs": map[string]interface{}{"webhook_url": "http://127.0.0.1:1"},
		"images": []string{base64PNG(t)},
	})
	w, out = do(t, router, http.MethodPost, "/execute/ImageWebhookNotifier", string(body))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, out["error"], "webhook request failed")
}
