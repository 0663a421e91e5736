package detections

import (
	"fmt"
	"log"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// SessionSpec describes one ONNX model with a single input and output tensor.
type SessionSpec struct {
	ModelPath   string
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64
}

// DetectorSpec is the session layout of the YOLO face detector.
func DetectorSpec(modelPath string) SessionSpec {
	return SessionSpec{
		ModelPath:   modelPath,
		InputName:   DetectorInputName,
		OutputName:  DetectorOutputName,
		InputShape:  []int64{1, 3, InputHeight, InputWidth},
		OutputShape: []int64{1, PredictionChannel, NumPredictions},
	}
}

// EmbedderSpec is the session layout of the ArcFace embedder.
func EmbedderSpec(modelPath string) SessionSpec {
	return SessionSpec{
		ModelPath:   modelPath,
		InputName:   EmbedderInputName,
		OutputName:  EmbedderOutputName,
		InputShape:  []int64{1, 3, EmbedderInputSize, EmbedderInputSize},
		OutputShape: []int64{1, EmbeddingSize},
	}
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// Run copies input into the session tensor, runs inference and returns the
// output tensor data. The slice is owned by the session.
func (m *ModelSession) Run(input []float32) ([]float32, error) {
	dst := m.Input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input length %d, want %d", len(input), len(dst))
	}
	copy(dst, input)
	if err := m.Session.Run(); err != nil {
		return nil, err
	}
	return m.Output.GetData(), nil
}

// InitEnvironment loads the onnxruntime shared library. It must be called once
// before any session is created.
func InitEnvironment(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

func DestroyEnvironment() {
	if err := ort.DestroyEnvironment(); err != nil {
		log.Printf("Failed to destroy onnxruntime environment: %v", err)
	}
}

// NewModelSession creates a session with its own input and output tensors.
func NewModelSession(spec SessionSpec) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		spec.ModelPath,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session %s: %w", spec.ModelPath, err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}
