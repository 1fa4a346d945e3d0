package web

import (
	"bytes"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imgbatch/internal/compressor"
	"imgbatch/internal/config"
	"imgbatch/internal/logger"
	"imgbatch/internal/transform"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := logger.Discard()
	cfg := config.DefaultConfig()
	cfg.TargetDirectory = filepath.Join(t.TempDir(), "out")
	require.NoError(t, cfg.Validate())

	s := NewServer(cfg, log, compressor.NewDefaultCompressor(log), transform.NewTransformer(log))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, APIResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, APIResponse) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestStatusIdle(t *testing.T) {
	_, ts := newTestServer(t)

	resp, out := getJSON(t, ts.URL+"/api/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	data := out.Data.(map[string]interface{})
	assert.Equal(t, false, data["running"])
	assert.Nil(t, data["statistics"])
}

func TestCompressValidation(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "bad quality", body: CompressRequest{SourceDirectory: t.TempDir(), Quality: 150}},
		{name: "missing source", body: CompressRequest{SourceDirectory: filepath.Join(t.TempDir(), "nope"), Quality: 80}},
		{name: "not json", body: "quality"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := postJSON(t, ts.URL+"/api/compress", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.False(t, out.Success)
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestCompressRejectsConcurrentRun(t *testing.T) {
	s, ts := newTestServer(t)
	s.isRunning = true

	resp, out := postJSON(t, ts.URL+"/api/compress", CompressRequest{SourceDirectory: t.TempDir(), Quality: 80})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Operation already in progress", out.Error)
}

func TestStopWhenIdle(t *testing.T) {
	_, ts := newTestServer(t)
	resp, _ := postJSON(t, ts.URL+"/api/stop", struct{}{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCompressStreamsOutcomes(t *testing.T) {
	s, ts := newTestServer(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "small.jpg"), bytes.Repeat([]byte{1}, 2048), 0644))
	dst := filepath.Join(t.TempDir(), "out")

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	resp, out := postJSON(t, ts.URL+"/api/compress", CompressRequest{
		SourceDirectory: src,
		TargetDirectory: dst,
		Quality:         80,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)

	var types []string
	var file FileEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(types) == 0 || types[len(types)-1] != "compress_completed" {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
		if msg.Type == "file_processed" {
			require.NoError(t, json.Unmarshal(msg.Data, &file))
		}
	}
	s.Wait()

	assert.Equal(t, []string{"compress_started", "file_processed", "compress_completed"}, types)
	assert.Equal(t, "copied", file.Action)
	assert.Equal(t, filepath.Join(dst, "small.jpg"), file.Target)
	assert.FileExists(t, filepath.Join(dst, "small.jpg"))

	_, stats := getJSON(t, ts.URL+"/api/statistics")
	files := stats.Data.(map[string]interface{})["files"].(map[string]interface{})
	assert.Equal(t, float64(1), files["copied"])
	assert.Equal(t, float64(1), files["total_found"])
}

func TestResizeRun(t *testing.T) {
	s, ts := newTestServer(t)

	src := t.TempDir()
	require.NoError(t, imaging.Save(imaging.New(40, 20, color.White), filepath.Join(src, "a.png")))
	dst := t.TempDir()

	resp, _ := postJSON(t, ts.URL+"/api/resize", ResizeRequest{SourceDirectory: src, TargetDirectory: dst, Width: 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s.Wait()

	img, err := imaging.Open(filepath.Join(dst, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())

	_, status := getJSON(t, ts.URL+"/api/status")
	data := status.Data.(map[string]interface{})
	assert.Equal(t, false, data["running"])
	assert.Equal(t, "resize", data["operation"])
	assert.Equal(t, float64(1), data["statistics"].(map[string]interface{})["transformed"])
}

func TestResizeRequiresBounds(t *testing.T) {
	_, ts := newTestServer(t)
	resp, _ := postJSON(t, ts.URL+"/api/resize", ResizeRequest{SourceDirectory: t.TempDir()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInspect(t *testing.T) {
	_, ts := newTestServer(t)

	path := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, imaging.Save(imaging.New(8, 6, color.White), path))

	resp, out := getJSON(t, ts.URL+"/api/inspect?path="+path)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := out.Data.(map[string]interface{})
	assert.Equal(t, false, data["eligible"])
	info := data["info"].(map[string]interface{})
	assert.Equal(t, float64(8), info["width"])

	resp, _ = getJSON(t, ts.URL+"/api/inspect")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertValidation(t *testing.T) {
	_, ts := newTestServer(t)
	src := t.TempDir()

	tests := []struct {
		name string
		body ConvertRequest
	}{
		{name: "unknown format", body: ConvertRequest{SourceDirectory: src, Format: "xyz"}},
		{name: "quality too high", body: ConvertRequest{SourceDirectory: src, Format: "jpg", Quality: 101}},
		{name: "negative quality", body: ConvertRequest{SourceDirectory: src, Format: "jpg", Quality: -1}},
		{name: "target is source", body: ConvertRequest{SourceDirectory: src, TargetDirectory: src, Format: "png"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := postJSON(t, ts.URL+"/api/convert", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.False(t, out.Success)
		})
	}
}

func TestCompressRejectsSourceAsTarget(t *testing.T) {
	_, ts := newTestServer(t)
	src := t.TempDir()
	resp, out := postJSON(t, ts.URL+"/api/compress", CompressRequest{SourceDirectory: src, TargetDirectory: src, Quality: 80})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Target directory must differ from source directory", out.Error)
}

func TestConvertStreamsEachFile(t *testing.T) {
	s, ts := newTestServer(t)

	src := t.TempDir()
	require.NoError(t, imaging.Save(imaging.New(4, 4, color.White), filepath.Join(src, "a.jpg")))
	require.NoError(t, imaging.Save(imaging.New(4, 4, color.White), filepath.Join(src, "b.jpg")))
	dst := t.TempDir()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	resp, _ := postJSON(t, ts.URL+"/api/convert", ConvertRequest{SourceDirectory: src, TargetDirectory: dst, Format: "png"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var targets []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg struct {
			Type string    `json:"type"`
			Data FileEvent `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "convert_completed" {
			break
		}
		if msg.Type == "file_processed" {
			assert.Equal(t, "transformed", msg.Data.Action)
			targets = append(targets, filepath.Base(msg.Data.Target))
		}
	}
	s.Wait()

	assert.Equal(t, []string{"a.png", "b.png"}, targets)

	_, stats := getJSON(t, ts.URL+"/api/statistics")
	data := stats.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["files"].(map[string]interface{})["total_found"])
	assert.NotEmpty(t, data["duration"])
}
