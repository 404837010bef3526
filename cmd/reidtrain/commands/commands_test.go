package commands

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reid"
	"github.com/hupe1980/reid/config"
	"github.com/hupe1980/reid/dataset"
	"github.com/hupe1980/reid/detection"
	"github.com/hupe1980/reid/testutil"
)

// execute runs the CLI with args, writing results to a file it returns.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configFile, logLevel, logFormat, outputFile = "", "", "", ""
		trainDir, valDir, epochs, patience, metricsAddr = "", "", 0, 0, ""
		checkpointName = ""
		detectBin, detectParams = "", detection.DefaultParams()
	})

	out := filepath.Join(t.TempDir(), "out")
	rootCmd.SetArgs(append([]string{"--log-level", "error", "-o", out}, args...))
	return out, rootCmd.Execute()
}

func writeConfig(t *testing.T) (string, config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Dataset.TrainDir = testutil.WriteDataset(t, filepath.Join(dir, "train"), testutil.Identities{
		"cow_a": 3,
		"cow_b": 3,
	}, 6)
	cfg.Dataset.ImageSize = 4
	cfg.Model.Grid = 2
	cfg.Model.HiddenDim = 8
	cfg.Model.EmbeddingDim = 4
	cfg.Train.Epochs = 2
	cfg.Train.BatchSize = 3
	cfg.Loader.Workers = 2
	cfg.Storage.URI = "file://" + filepath.ToSlash(filepath.Join(dir, "checkpoints"))

	data, err := config.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "reid.yaml")
	testutil.WriteFile(t, path, data)
	return path, cfg
}

func TestIndexCommand(t *testing.T) {
	root := testutil.WriteDataset(t, t.TempDir(), testutil.Identities{"a": 2, "b": 1}, 6)

	out, err := execute(t, "index", root)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var st dataset.Stats
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, 3, st.Samples)
	assert.Equal(t, 2, st.Identities)
	assert.Equal(t, []string{"b"}, st.Singletons)
}

func TestIndexCommand_MissingRoot(t *testing.T) {
	_, err := execute(t, "index", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, reid.ErrMissingIdentityDirectory)
}

func TestConfigCommand(t *testing.T) {
	path, want := writeConfig(t)

	out, err := execute(t, "-c", path, "config")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	got, err := config.Parse(data)
	require.NoError(t, err)

	want.Log.Level = "error"
	assert.Equal(t, want, got)
}

func TestTrainThenEmbed(t *testing.T) {
	path, cfg := writeConfig(t)

	out, err := execute(t, "-c", path, "train", "--epochs", "1")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var summary trainSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Len(t, summary.Epochs, 1)
	assert.Equal(t, 0, summary.BestEpoch)
	assert.True(t, summary.Persisted)

	out, err = execute(t, "-c", path, "embed", cfg.Dataset.TrainDir, "--checkpoint", "reid-best")
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e reid.Embedding
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		assert.Len(t, e.Vector, cfg.Model.EmbeddingDim)
		lines++
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 6, lines)
}

func TestEmbedCommand_MissingCheckpoint(t *testing.T) {
	path, cfg := writeConfig(t)

	_, err := execute(t, "-c", path, "embed", cfg.Dataset.TrainDir)
	assert.ErrorIs(t, err, reid.ErrNotFound)
}

func TestDetectCommand_Tracks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the detection trainer")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "yolo-train")
	require.NoError(t, os.WriteFile(bin, []byte(`#!/bin/sh
echo 'training...'
echo '{"metrics":{"map50":0.91,"map50_95":0.66,"precision":0.9,"recall":0.87},"artifact":"runs/best.pt"}'
`), 0o755))

	cfg := config.Default()
	cfg.Tracking.JSONLPath = filepath.Join(dir, "runs.jsonl")
	data, err := config.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "reid.yaml")
	testutil.WriteFile(t, path, data)

	out, err := execute(t, "-c", path, "detect", "--bin", bin, "--epochs", "2", "data.yaml")
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var res detection.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "runs/best.pt", res.Artifact)

	f, err := os.Open(cfg.Tracking.JSONLPath)
	require.NoError(t, err)
	defer f.Close()

	var kinds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, "reid-detect", rec["run"])
		kinds = append(kinds, rec["kind"].(string))
		if rec["kind"] == "params" {
			params := rec["params"].(map[string]any)
			assert.InDelta(t, 0.91, params["map50"], 1e-12)
			assert.EqualValues(t, 2, params["epochs"])
			assert.Equal(t, "data.yaml", params["descriptor"])
		}
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"params", "artifact"}, kinds)
}
