//go:build onnxruntime

package detect

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit struct {
	once sync.Once
	err  error
}

func initORT(sharedLibrary string) error {
	ortInit.once.Do(func() {
		if sharedLibrary != "" {
			ort.SetSharedLibraryPath(sharedLibrary)
		}
		ortInit.err = ort.InitializeEnvironment()
	})
	return ortInit.err
}

// nativeONNXSession runs inference in-process through libonnxruntime.
type nativeONNXSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	numLabels  int
}

func createONNXSession(cfg TransformersConfig, modelPath string, numLabels int) (nerSession, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), BackendPython) {
		return newPythonONNXSession(modelPath), nil
	}
	if err := initORT(cfg.SharedLibrary); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("model has no outputs")
	}
	inputNames := make([]string, 0, len(inputs))
	for _, in := range inputs {
		inputNames = append(inputNames, in.Name)
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &nativeONNXSession{session: session, inputNames: inputNames, numLabels: numLabels}, nil
}

func (s *nativeONNXSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seqLen := int64(len(inputIDs))
	shape := ort.NewShape(1, seqLen)

	inputs := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, name := range s.inputNames {
		data := make([]int64, seqLen)
		switch {
		case strings.Contains(name, "input_ids"):
			copy(data, inputIDs)
		case strings.Contains(name, "attention_mask"):
			copy(data, attentionMask)
		case strings.Contains(name, "token_type_ids"):
			copy(data, tokenTypeIDs)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("input tensor %s: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, int64(s.numLabels)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.session.Run(inputs, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnxruntime run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flat := out.GetData()
	rows := make([][]float32, seqLen)
	for i := range rows {
		row := make([]float32, s.numLabels)
		copy(row, flat[i*s.numLabels:(i+1)*s.numLabels])
		rows[i] = row
	}
	return rows, nil
}

func (s *nativeONNXSession) Close() error {
	return s.session.Destroy()
}
