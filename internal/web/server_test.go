package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"

	"frame-converter-go/internal/converter"
	"frame-converter-go/internal/encoder"
	"frame-converter-go/internal/logger"
)

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := imaging.New(6, 6, color.NRGBA{R: uint8(40 * i), G: 0x80, A: 0xff})
		if err := imaging.Save(img, filepath.Join(dir, fmt.Sprintf("shot_%02d.png", i))); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(converter.New(converter.Options{}), logger.Discard())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop(context.Background())
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, APIResponse) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp, out
}

func TestScanEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	dir := writeFrames(t, 3)

	resp, out := postJSON(t, ts.URL+"/api/scan", ScanRequest{InputMode: "folder", InputPath: dir})
	if resp.StatusCode != http.StatusOK || !out.Success {
		t.Fatalf("scan status %d: %+v", resp.StatusCode, out)
	}
	data := out.Data.(map[string]interface{})
	if data["total"].(float64) != 3 {
		t.Errorf("total = %v, want 3", data["total"])
	}

	resp, out = postJSON(t, ts.URL+"/api/scan", ScanRequest{InputPath: filepath.Join(dir, "missing")})
	if resp.StatusCode != http.StatusNotFound || out.Kind != string(converter.KindNotFound) {
		t.Errorf("missing folder: status %d kind %q", resp.StatusCode, out.Kind)
	}
}

func TestConvertStreamsProgress(t *testing.T) {
	_, ts := newTestServer(t)
	dir := writeFrames(t, 4)
	outDir := t.TempDir()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var hello WSMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != msgStatus {
		t.Fatalf("first message = %+v, %v", hello, err)
	}

	req := converter.Request{
		InputMode:          "folder",
		InputPath:          dir,
		OutputDir:          outDir,
		FPS:                8,
		Formats:            []encoder.Format{encoder.FormatGIF, encoder.FormatAPNG},
		CompressionQuality: 80,
	}
	resp, out := postJSON(t, ts.URL+"/api/convert", req)
	if resp.StatusCode != http.StatusAccepted || !out.Success {
		t.Fatalf("convert status %d: %+v", resp.StatusCode, out)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	progressSeen := 0
	var summary converter.JobSummary
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (progress messages so far: %d)", err, progressSeen)
		}
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type == msgProgress {
			progressSeen++
		}
		if msg.Type == msgFinished {
			if err := json.Unmarshal(msg.Data, &summary); err != nil {
				t.Fatal(err)
			}
			break
		}
	}

	if summary.State != converter.StateCompleted {
		t.Fatalf("state = %s, results %+v", summary.State, summary.Results)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(summary.Results))
	}
	for _, r := range summary.Results {
		if _, err := os.Stat(r.Path); err != nil {
			t.Errorf("%s output missing: %v", r.Format, err)
		}
	}
	if progressSeen == 0 {
		t.Error("no progress messages before convert-finished")
	}
}

func TestConvertRejectsInvalidRequest(t *testing.T) {
	_, ts := newTestServer(t)
	resp, out := postJSON(t, ts.URL+"/api/convert", converter.Request{InputMode: "folder"})
	if resp.StatusCode != http.StatusBadRequest || out.Kind != string(converter.KindValidation) {
		t.Errorf("status %d kind %q, want 400 ValidationError", resp.StatusCode, out.Kind)
	}
}

func TestControlWithoutJob(t *testing.T) {
	_, ts := newTestServer(t)
	for _, path := range []string{"/api/pause", "/api/resume", "/api/cancel"} {
		resp, out := postJSON(t, ts.URL+path, struct{}{})
		if resp.StatusCode != http.StatusConflict || out.Kind != string(converter.KindInvalidState) {
			t.Errorf("%s: status %d kind %q, want 409 InvalidState", path, resp.StatusCode, out.Kind)
		}
	}

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Success bool                 `json:"success"`
		Data    converter.JobSummary `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Data.State != converter.StateIdle {
		t.Errorf("state = %s, want Idle", out.Data.State)
	}
}
