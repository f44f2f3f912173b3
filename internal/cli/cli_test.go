package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/r254650549/rural-demo/internal/api"
	"github.com/r254650549/rural-demo/internal/services/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/upload/image":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var paths []string
			for _, fh := range r.MultipartForm.File["file"] {
				paths = append(paths, "/srv/"+fh.Filename)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"paths": paths})
		case "/image-target-extractor":
			json.NewEncoder(w).Encode(map[string]string{"task_name": "stitch-1", "stitched_image": "/srv/pano.jpg"})
		case "/target-extractor":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"task_name": "extract-1",
				"targets":   []map[string]interface{}{{"id": "t1", "label": "house", "bbox": map[string]float64{"x": 1, "y": 2, "width": 3, "height": 4}}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func setupEnv(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "cli.db"))
	t.Setenv("ENCRYPTION_KEY", "cli-test-key")
	t.Setenv("RURAL_API_BASE_URL", baseURL)
	t.Setenv("RURAL_API_TOKEN", "tok")
	t.Setenv("RURAL_CONFIG", "")
	t.Setenv("RURAL_PROFILE", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))
	return path
}

func TestRunCommand(t *testing.T) {
	t.Run("Should run the image pipeline and record every stage", func(t *testing.T) {
		server := fakeServer(t)
		dir := setupEnv(t, server.URL)
		a := writeImage(t, dir, "a.jpg")
		b := writeImage(t, dir, "b.jpg")

		out, err := execute(t, "run", a, b, "--json")
		require.NoError(t, err)

		var snap workflow.Snapshot
		require.NoError(t, json.Unmarshal([]byte(out), &snap))
		assert.Equal(t, workflow.PhaseCompleted, snap.State.Phase)
		require.NotNil(t, snap.Stitch)
		assert.Equal(t, "/srv/pano.jpg", snap.Stitch.StitchedImageRef)
		require.NotNil(t, snap.Extraction)
		require.Len(t, snap.Extraction.Targets, 1)
		assert.Equal(t, "house", snap.Extraction.Targets[0].Label)

		out, err = execute(t, "history", "list")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 4)
		assert.Contains(t, lines[1], "extract")
		assert.Contains(t, lines[3], "upload")
	})

	t.Run("Should fail without images", func(t *testing.T) {
		setupEnv(t, "http://localhost:1")
		_, err := execute(t, "run")
		assert.Error(t, err)
	})

	t.Run("Should report an unreachable server", func(t *testing.T) {
		dir := setupEnv(t, "http://127.0.0.1:1")
		a := writeImage(t, dir, "a.jpg")

		_, err := execute(t, "run", a)
		var transportErr *api.TransportError
		assert.ErrorAs(t, err, &transportErr)
	})
}

func TestHistoryCommands(t *testing.T) {
	t.Run("Should export to parquet and read it back", func(t *testing.T) {
		server := fakeServer(t)
		dir := setupEnv(t, server.URL)
		a := writeImage(t, dir, "a.jpg")

		_, err := execute(t, "run", a)
		require.NoError(t, err)

		export := filepath.Join(dir, "history.parquet")
		_, err = execute(t, "history", "export", "--format", "parquet", "--out", export)
		require.NoError(t, err)

		out, err := execute(t, "history", "inspect", export)
		require.NoError(t, err)
		assert.Contains(t, out, "Loaded 2 records")
		assert.Contains(t, out, "type: extract")
	})

	t.Run("Should refuse parquet on stdout", func(t *testing.T) {
		setupEnv(t, "http://localhost:1")
		_, err := execute(t, "history", "export", "--format", "parquet")
		assert.Error(t, err)
	})
}

func TestScheduleCommands(t *testing.T) {
	t.Run("Should save and list a job", func(t *testing.T) {
		dir := setupEnv(t, "http://localhost:1")

		_, err := execute(t, "schedule", "set", "nightly", "--cron", "0 2 * * *",
			"--payload", `{"directory":"`+filepath.ToSlash(dir)+`","only_new":true}`)
		require.NoError(t, err)

		out, err := execute(t, "schedule", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "nightly")
		assert.Contains(t, out, "0 0 2 * * *")
	})

	t.Run("Should reject a payload that is not JSON", func(t *testing.T) {
		setupEnv(t, "http://localhost:1")
		_, err := execute(t, "schedule", "set", "bad", "--cron", "0 2 * * *", "--payload", "dir=/data")
		assert.Error(t, err)
	})
}

func TestParseLine(t *testing.T) {
	t.Run("Should parse four coordinates", func(t *testing.T) {
		line, err := parseLine("0, 360,1280,360.5")
		require.NoError(t, err)
		assert.Equal(t, api.AnnotationLine{StartX: 0, StartY: 360, EndX: 1280, EndY: 360.5}, line)
	})

	t.Run("Should reject malformed or degenerate lines", func(t *testing.T) {
		for _, in := range []string{"", "1,2,3", "a,b,c,d", "5,5,5,5"} {
			_, err := parseLine(in)
			assert.Error(t, err, in)
		}
	})
}
