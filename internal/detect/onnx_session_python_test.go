package detect

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePython writes a shell script that stands in for the interpreter. It
// ignores the -c script and model arguments and runs body against stdin.
func fakePython(t *testing.T, body string) *pythonONNXSession {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "python3")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	s := &pythonONNXSession{modelPath: "model.onnx", python: path}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const echoWorker = `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":\([0-9]*\).*/\1/')
  printf '{"id":%s,"logits":[[0.5,1.5],[2,3]]}\n' "$id"
done`

func TestPythonWorkerServesSequentialCalls(t *testing.T) {
	s := fakePython(t, echoWorker)
	ids := []int64{1, 2}

	got, err := s.Run(context.Background(), ids, ids, ids)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 1.5}, {2, 3}}, got)
	pid := s.cmd.Process.Pid

	_, err = s.Run(context.Background(), ids, ids, ids)
	require.NoError(t, err)
	assert.Equal(t, pid, s.cmd.Process.Pid, "worker is reused")
}

func TestPythonWorkerReportsInferenceError(t *testing.T) {
	s := fakePython(t, `while IFS= read -r line; do
  printf '{"id":1,"error":"onnx worker setup failed: no module named onnxruntime"}\n'
done`)
	_, err := s.Run(context.Background(), []int64{1}, []int64{1}, []int64{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no module named onnxruntime")
	assert.NotNil(t, s.cmd, "an error reply keeps the worker")
}

func TestPythonWorkerRestartsAfterExit(t *testing.T) {
	s := fakePython(t, `IFS= read -r line
printf '{"id":1,"logits":[[1]]}\n'`)
	ids := []int64{1}

	_, err := s.Run(context.Background(), ids, ids, ids)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), ids, ids, ids)
	require.Error(t, err)
	assert.Nil(t, s.cmd)

	// the fresh worker sees request 3 but always answers 1
	_, err = s.Run(context.Background(), ids, ids, ids)
	assert.ErrorContains(t, err, "answered request 1, want 3")
}

func TestPythonWorkerHonoursCancellation(t *testing.T) {
	s := fakePython(t, `IFS= read -r line
exec sleep 30`)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Run(ctx, []int64{1}, []int64{1}, []int64{0})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Nil(t, s.cmd)
}
