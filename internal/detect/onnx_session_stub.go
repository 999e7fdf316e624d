//go:build !onnxruntime

package detect

import (
	"fmt"
	"strings"
)

func createONNXSession(cfg TransformersConfig, modelPath string, _ int) (nerSession, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), BackendNative) {
		return nil, fmt.Errorf("native ONNX backend requires build tag 'onnxruntime'")
	}
	return newPythonONNXSession(modelPath), nil
}
