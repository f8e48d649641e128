package model

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Options tune how a network is loaded.
type Options struct {
	UseGPU  bool
	Threads int
	// Outputs selects graph outputs by name. Empty means every output.
	Outputs []string
}

// Net is a loaded ONNX network.
type Net struct {
	path    string
	session *ort.DynamicAdvancedSession
	inputs  []ort.InputOutputInfo
	outputs []ort.InputOutputInfo
}

// Init points the binding at the ONNX Runtime shared library and creates the
// process wide environment. Calling it again is a no-op.
func Init(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath == "" {
		libraryPath = DefaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	slog.Debug("onnxruntime initialized", "library", libraryPath)
	return nil
}

// Shutdown releases the environment created by Init.
func Shutdown() {
	if !ort.IsInitialized() {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("failed to destroy ONNX environment", "error", err)
	}
}

// DefaultLibraryPath returns $ONNXRUNTIME_LIB or the platform's usual library name.
func DefaultLibraryPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Open loads the network at path.
func Open(path string, opts Options) (*Net, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info %s: %w", path, err)
	}
	if len(opts.Outputs) > 0 {
		outputs, err = selectOutputs(outputs, opts.Outputs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}

	sessionOpts, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer sessionOpts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path, names(inputs), names(outputs), sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Net{
		path:    path,
		session: session,
		inputs:  inputs,
		outputs: outputs,
	}, nil
}

func newSessionOptions(opts Options) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if opts.Threads > 0 {
		if err := so.SetIntraOpNumThreads(opts.Threads); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	if opts.UseGPU {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			slog.Warn("CUDA provider unavailable, running on CPU", "error", err)
			return so, nil
		}
		defer cuda.Destroy()
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			slog.Warn("CUDA provider unavailable, running on CPU", "error", err)
		}
	}
	return so, nil
}

// Predict runs one forward pass. Inputs are matched to the graph inputs by
// position and every output is returned as float32.
func (n *Net) Predict(inputs ...Input) ([]*Tensor, error) {
	if len(inputs) != len(n.inputs) {
		return nil, fmt.Errorf("%s: expected %d inputs, got %d", filepath.Base(n.path), len(n.inputs), len(inputs))
	}

	values := make([]ort.Value, len(inputs))
	defer destroyAll(values)
	for i, in := range inputs {
		v, err := in.value()
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", n.inputs[i].Name, err)
		}
		values[i] = v
	}

	outputs := make([]ort.Value, len(n.outputs))
	defer destroyAll(outputs)
	if err := n.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	results := make([]*Tensor, len(outputs))
	for i, out := range outputs {
		t, err := toTensor(out, n.outputs[i].DataType)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", n.outputs[i].Name, err)
		}
		results[i] = t
	}
	return results, nil
}

// InputShape reports the declared shape of the i-th input. Dynamic
// dimensions are -1.
func (n *Net) InputShape(i int) []int64 {
	return append([]int64(nil), n.inputs[i].Dimensions...)
}

// InputNames lists graph inputs in positional order.
func (n *Net) InputNames() []string { return names(n.inputs) }

// OutputNames lists the outputs Predict returns.
func (n *Net) OutputNames() []string { return names(n.outputs) }

func (n *Net) Close() {
	if n.session != nil {
		n.session.Destroy()
		n.session = nil
	}
}

func toTensor(v ort.Value, dt ort.TensorElementDataType) (*Tensor, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return &Tensor{Shape: []int64(t.GetShape().Clone()), Data: append([]float32(nil), t.GetData()...)}, nil
	case *ort.Tensor[int64]:
		src := t.GetData()
		data := make([]float32, len(src))
		for i, x := range src {
			data[i] = float32(x)
		}
		return &Tensor{Shape: []int64(t.GetShape().Clone()), Data: data}, nil
	case *ort.CustomDataTensor:
		if dt != ort.TensorElementDataTypeFloat16 {
			return nil, fmt.Errorf("unsupported element type %v", dt)
		}
		return &Tensor{Shape: []int64(t.GetShape().Clone()), Data: decodeHalf(t.GetData())}, nil
	default:
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
}

func selectOutputs(all []ort.InputOutputInfo, want []string) ([]ort.InputOutputInfo, error) {
	byName := make(map[string]ort.InputOutputInfo, len(all))
	for _, o := range all {
		byName[o.Name] = o
	}
	selected := make([]ort.InputOutputInfo, 0, len(want))
	for _, name := range want {
		o, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no output named %q", name)
		}
		selected = append(selected, o)
	}
	return selected, nil
}

func names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
