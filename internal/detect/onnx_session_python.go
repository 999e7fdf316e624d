package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// pythonONNXSession keeps one python3 worker with the model loaded and
// exchanges one JSON line per inference with it. Calls are serialized. A
// worker that exits, garbles a reply or is interrupted by a cancelled call is
// killed and started again on the next Run.
type pythonONNXSession struct {
	modelPath string
	python    string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	nextID uint64
}

type pythonInferRequest struct {
	ID            uint64  `json:"id"`
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
	TokenTypeIDs  []int64 `json:"token_type_ids"`
}

type pythonInferResponse struct {
	ID     uint64      `json:"id"`
	Logits [][]float32 `json:"logits"`
	Error  string      `json:"error"`
}

func newPythonONNXSession(modelPath string) nerSession {
	return &pythonONNXSession{modelPath: modelPath, python: "python3"}
}

func (s *pythonONNXSession) start() error {
	cmd := exec.Command(s.python, "-c", pythonONNXWorkerScript, s.modelPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start python onnx worker: %w", err)
	}
	s.cmd, s.stdin, s.stdout = cmd, stdin, bufio.NewReader(stdout)
	return nil
}

func (s *pythonONNXSession) stop() {
	if s.cmd == nil {
		return
	}
	_ = s.stdin.Close()
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	s.cmd, s.stdin, s.stdout = nil, nil, nil
}

func (s *pythonONNXSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cmd == nil {
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	s.nextID++
	id := s.nextID
	line, err := json.Marshal(pythonInferRequest{
		ID:            id,
		InputIDs:      inputIDs,
		AttentionMask: attentionMask,
		TokenTypeIDs:  tokenTypeIDs,
	})
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	type reply struct {
		resp pythonInferResponse
		err  error
	}
	done := make(chan reply, 1)
	stdin, stdout := s.stdin, s.stdout
	go func() {
		var r reply
		if _, r.err = stdin.Write(line); r.err == nil {
			var raw []byte
			if raw, r.err = stdout.ReadBytes('\n'); r.err == nil {
				r.err = json.Unmarshal(raw, &r.resp)
			}
		}
		done <- r
	}()

	select {
	case <-ctx.Done():
		// the worker is mid-call; killing it unblocks the exchange above
		s.stop()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			s.stop()
			return nil, fmt.Errorf("python onnx worker: %w", r.err)
		}
		if r.resp.ID != id {
			s.stop()
			return nil, fmt.Errorf("python onnx worker answered request %d, want %d", r.resp.ID, id)
		}
		if r.resp.Error != "" {
			return nil, fmt.Errorf("python onnx inference error: %s", r.resp.Error)
		}
		return r.resp.Logits, nil
	}
}

// Close stops the worker. A later Run starts a fresh one.
func (s *pythonONNXSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
	return nil
}

// pythonONNXWorkerScript loads the model named by argv[1] once, then answers
// every JSON request line on stdin with one JSON line on stdout. Setup
// failures are reported on each request so the caller sees the cause.
const pythonONNXWorkerScript = `
import json
import sys

FEEDS = ("input_ids", "attention_mask", "token_type_ids")


def reply(obj):
    sys.stdout.write(json.dumps(obj) + "\n")
    sys.stdout.flush()


def load(model_path):
    import numpy as np
    import onnxruntime as ort

    sess = ort.InferenceSession(model_path, providers=["CPUExecutionProvider"])
    names = [i.name for i in sess.get_inputs()]

    def infer(req):
        width = len(req["input_ids"])
        feed = {}
        for name in names:
            key = next((k for k in FEEDS if k in name), None)
            values = req[key] if key else [0] * width
            feed[name] = np.asarray([values], dtype=np.int64)
        return sess.run(None, feed)[0][0].astype(np.float32).tolist()

    return infer


try:
    infer, setup_error = load(sys.argv[1]), None
except Exception as exc:
    infer, setup_error = None, "onnx worker setup failed: %s" % exc

for line in sys.stdin:
    if not line.strip():
        continue
    req = {}
    try:
        req = json.loads(line)
        if setup_error:
            raise RuntimeError(setup_error)
        reply({"id": req["id"], "logits": infer(req)})
    except Exception as exc:
        reply({"id": req.get("id", 0), "error": str(exc)})
`
