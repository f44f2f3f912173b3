package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r254650549/rural-demo/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

type noToken struct{}

func (noToken) Token(ctx context.Context) (string, error) { return "", errors.New("no credential") }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.HTTP.RetryWait = time.Millisecond
	cfg.HTTP.RetryMaxWait = 5 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", staticToken("tok-123"), testConfig())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestUploadImages(t *testing.T) {
	ctx := context.Background()

	t.Run("Should send every file as a repeated part with the bearer token", func(t *testing.T) {
		dir := t.TempDir()
		first := filepath.Join(dir, "a.jpg")
		require.NoError(t, os.WriteFile(first, []byte("jpeg-a"), 0o600))

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/upload/image", r.URL.Path)
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "true", r.FormValue("is_ground_image"))

			parts := r.MultipartForm.File["file"]
			require.Len(t, parts, 2)
			assert.Equal(t, "a.jpg", parts[0].Filename)
			assert.Equal(t, "b.jpg", parts[1].Filename)

			writeJSON(w, http.StatusOK, map[string]interface{}{
				"code": 200,
				"msg":  "2 images uploaded",
				"data": map[string]interface{}{"paths": []string{"/srv/a.jpg", "/srv/b.jpg"}},
			})
		})

		resp, err := client.UploadImages(ctx, []File{
			{Path: first},
			{Name: "b.jpg", Reader: strings.NewReader("jpeg-b")},
		}, UploadOptions{GroundImage: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"/srv/a.jpg", "/srv/b.jpg"}, resp.Paths)
	})

	t.Run("Should not retry uploads on server errors", func(t *testing.T) {
		var calls int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "disk full"})
		})

		_, err := client.UploadVideos(ctx, []File{{Name: "v.mp4", Reader: strings.NewReader("mp4")}})
		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, http.StatusInternalServerError, transportErr.StatusCode)
		assert.Equal(t, "disk full", ServerMessage(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Should reject an empty file list", func(t *testing.T) {
		client := NewClient("http://unused", staticToken("x"), testConfig())
		_, err := client.UploadImages(ctx, nil, UploadOptions{})
		assert.Error(t, err)
	})
}

func TestProcessGroundImages(t *testing.T) {
	ctx := context.Background()

	t.Run("Should post the image paths and return the stitched reference", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/image-target-extractor", r.URL.Path)
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []interface{}{"/srv/a.jpg", "/srv/b.jpg"}, body["image_paths"])
			assert.Equal(t, "survey-1", body["task_name"])

			writeJSON(w, http.StatusOK, map[string]string{"task_name": "survey-1", "stitched_image": "/srv/pano.jpg"})
		})

		resp, err := client.ProcessGroundImages(ctx, StitchRequest{
			ImagePaths: []string{"/srv/a.jpg", "/srv/b.jpg"},
			TaskName:   "survey-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "survey-1", resp.TaskName)
		assert.Equal(t, "/srv/pano.jpg", resp.StitchedImageRef)
	})

	t.Run("Should treat a missing task name as a server logic error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"stitched_image": "/srv/pano.jpg"})
		})

		_, err := client.ProcessGroundImages(ctx, StitchRequest{ImagePaths: []string{"/srv/a.jpg"}})
		var logicErr *ServerLogicError
		require.ErrorAs(t, err, &logicErr)
		assert.Equal(t, "No task name in response", logicErr.Message)
	})

	t.Run("Should surface failure envelopes as server logic errors", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"code": 500, "msg": "not enough overlap"})
		})

		_, err := client.ProcessGroundImages(ctx, StitchRequest{ImagePaths: []string{"/srv/a.jpg"}})
		var logicErr *ServerLogicError
		require.ErrorAs(t, err, &logicErr)
		assert.Equal(t, "not enough overlap", ServerMessage(err))
	})

	t.Run("Should retry JSON calls on 503", func(t *testing.T) {
		var calls int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"task_name": "t", "result_path": "/srv/p.jpg"})
		})

		resp, err := client.ProcessGroundImages(ctx, StitchRequest{ImagePaths: []string{"/srv/a.jpg"}})
		require.NoError(t, err)
		assert.Equal(t, "/srv/p.jpg", resp.StitchedImageRef)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})
}

func TestProcessGroundVideo(t *testing.T) {
	t.Run("Should fill defaults and send the line coordinates", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/video-processor", r.URL.Path)
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)

			var body videoPayload
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, []string{"/srv/v.mp4"}, body.VideoPaths)
			assert.Equal(t, DefaultVideoTaskName, body.TaskName)
			assert.Equal(t, DefaultVideoExtractionType, body.ExtractionType)
			assert.Equal(t, DefaultVideoAlgorithm, body.AlgorithmType)
			assert.Equal(t, AnnotationLine{StartX: 1, StartY: 2, EndX: 300, EndY: 40}, body.LineCoordinates)

			writeJSON(w, http.StatusOK, map[string]interface{}{
				"task_name": body.TaskName,
				"results":   []map[string]interface{}{{"id": "r1", "label": "car", "path": "/srv/r1.jpg"}},
			})
		})

		resp, err := client.ProcessGroundVideo(context.Background(), VideoRequest{
			VideoPath: "/srv/v.mp4",
			Line:      AnnotationLine{StartX: 1, StartY: 2, EndX: 300, EndY: 40},
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "car", resp.Results[0].Label)
	})
}

func TestExtractTargets(t *testing.T) {
	t.Run("Should return an empty non-nil list when nothing is found", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"task_name": "x", "targets": nil})
		})

		resp, err := client.ExtractTargets(context.Background(), ExtractRequest{ImageRef: "/srv/pano.jpg"})
		require.NoError(t, err)
		assert.NotNil(t, resp.Targets)
		assert.Empty(t, resp.Targets)
	})

	t.Run("Should decode bounding boxes", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"task_name": "x",
				"targets": []map[string]interface{}{
					{"id": "t1", "label": "house", "confidence": 0.9, "bbox": map[string]float64{"x": 1, "y": 2, "width": 30, "height": 40}},
				},
			})
		})

		resp, err := client.ExtractTargets(context.Background(), ExtractRequest{ImageRef: "/srv/pano.jpg"})
		require.NoError(t, err)
		require.Len(t, resp.Targets, 1)
		require.NotNil(t, resp.Targets[0].BoundingBox)
		assert.Equal(t, 30.0, resp.Targets[0].BoundingBox.Width)
	})
}

func TestAuthErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Should map 401 to AuthError", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
		})

		_, err := client.ExtractTargets(ctx, ExtractRequest{ImageRef: "x"})
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "token expired", authErr.Message)
	})

	t.Run("Should fail before sending when no token is available", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer server.Close()

		client := NewClient(server.URL, noToken{}, testConfig())
		_, err := client.ExtractTargets(ctx, ExtractRequest{ImageRef: "x"})
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("Should map network failures to TransportError", func(t *testing.T) {
		cfg := testConfig()
		cfg.HTTP.RetryCount = 0
		client := NewClient("http://127.0.0.1:1", staticToken("x"), cfg)
		_, err := client.ExtractTargets(ctx, ExtractRequest{ImageRef: "x"})
		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Zero(t, transportErr.StatusCode)
	})
}

func TestPathExists(t *testing.T) {
	ctx := context.Background()

	t.Run("Should cache positive answers and not negative ones", func(t *testing.T) {
		var heads int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodHead, r.Method)
			atomic.AddInt32(&heads, 1)
			if r.URL.Path == "/srv/gone.jpg" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		ok, err := client.PathExists(ctx, "/srv/pano.jpg")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = client.PathExists(ctx, "/srv/pano.jpg")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int32(1), atomic.LoadInt32(&heads))

		ok, err = client.PathExists(ctx, "/srv/gone.jpg")
		require.NoError(t, err)
		assert.False(t, ok)
		_, _ = client.PathExists(ctx, "/srv/gone.jpg")
		assert.Equal(t, int32(3), atomic.LoadInt32(&heads))
		assert.Equal(t, 1, client.paths.Len())
	})

	t.Run("Should report an empty reference as missing", func(t *testing.T) {
		client := NewClient("http://unused", staticToken("x"), testConfig())
		ok, err := client.PathExists(ctx, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPathCache(t *testing.T) {
	t.Run("Should evict the least recently used entry", func(t *testing.T) {
		cache := newPathCache(2, time.Minute)
		cache.Confirm("a")
		cache.Confirm("b")
		assert.True(t, cache.Fresh("a"))
		cache.Confirm("c")

		assert.True(t, cache.Fresh("a"))
		assert.False(t, cache.Fresh("b"))
		assert.True(t, cache.Fresh("c"))
	})

	t.Run("Should expire entries after the TTL", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		cache := newPathCache(4, time.Minute)
		cache.now = func() time.Time { return now }

		cache.Confirm("a")
		now = now.Add(2 * time.Minute)
		assert.False(t, cache.Fresh("a"))
		assert.Equal(t, 0, cache.Len())
	})
}
