package registry

import (
	"fmt"
	"sync"

	"github.com/nanaosei/cropdoc/crop"

	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX runtime environment is process-wide and initialized once, on
// first model load.
var (
	ortOnce    sync.Once
	ortInitErr error
)

// ONNXLoader opens ONNX weights files with onnxruntime. It is the
// production Loader.
type ONNXLoader struct{}

func (ONNXLoader) Load(profile *crop.Profile, weightsPath string) (Session, error) {
	ortOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", ortInitErr)
	}

	inputShape := ort.NewShape(1, 3, int64(profile.ImageSize), int64(profile.ImageSize))
	outputShape := ort.NewShape(1, int64(len(profile.Classes)))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(weightsPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

type onnxSession struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (s *onnxSession) Predict(input []float32) ([]float32, error) {
	buf := s.inputTensor.GetData()
	if len(input) != len(buf) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(buf), len(input))
	}
	copy(buf, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return s.outputTensor.GetData(), nil
}

func (s *onnxSession) Close() error {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	return nil
}
