package model

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"
	ort "github.com/yalue/onnxruntime_go"
)

// Input is anything that can be fed to a forward pass.
type Input interface {
	value() (ort.Value, error)
}

// Predictor runs a single forward pass with positional inputs.
type Predictor interface {
	Predict(inputs ...Input) ([]*Tensor, error)
}

// Tensor is a dense float32 tensor stored in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor wraps data with the given shape. It panics when the shape does not
// describe len(data) elements.
func NewTensor(data []float32, shape ...int64) *Tensor {
	if n := numElements(shape); n != len(data) {
		panic(fmt.Sprintf("model: shape %v holds %d elements, got %d", shape, n, len(data)))
	}
	return &Tensor{Shape: append([]int64(nil), shape...), Data: data}
}

// Zeros returns a zero-filled tensor.
func Zeros(shape ...int64) *Tensor {
	return NewTensor(make([]float32, numElements(shape)), shape...)
}

func (t *Tensor) value() (ort.Value, error) {
	return ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
}

// Len is the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Item returns the i-th slice along the leading axis.
func (t *Tensor) Item(i int) []float32 {
	stride := t.Len() / int(t.Shape[0])
	return t.Data[i*stride : (i+1)*stride]
}

// Reshape returns a view of the same data under another shape.
func (t *Tensor) Reshape(shape ...int64) (*Tensor, error) {
	if numElements(shape) != t.Len() {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.Shape, shape)
	}
	return &Tensor{Shape: append([]int64(nil), shape...), Data: t.Data}, nil
}

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: append([]int64(nil), t.Shape...), Data: append([]float32(nil), t.Data...)}
}

// Concat joins tensors along the leading axis. All trailing dimensions must match.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat: no tensors")
	}
	shape := append([]int64(nil), ts[0].Shape...)
	shape[0] = 0
	data := make([]float32, 0)
	for _, t := range ts {
		if len(t.Shape) != len(shape) {
			return nil, fmt.Errorf("concat: rank mismatch %v vs %v", t.Shape, ts[0].Shape)
		}
		for d := 1; d < len(shape); d++ {
			if t.Shape[d] != shape[d] {
				return nil, fmt.Errorf("concat: shape mismatch %v vs %v", t.Shape, ts[0].Shape)
			}
		}
		shape[0] += t.Shape[0]
		data = append(data, t.Data...)
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Split cuts t into n equal parts along the leading axis.
func Split(t *Tensor, n int) ([]*Tensor, error) {
	if n <= 0 || int(t.Shape[0])%n != 0 {
		return nil, fmt.Errorf("split: cannot split leading dim %d into %d", t.Shape[0], n)
	}
	parts := make([]*Tensor, n)
	size := t.Len() / n
	for i := range parts {
		shape := append([]int64(nil), t.Shape...)
		shape[0] /= int64(n)
		parts[i] = &Tensor{Shape: shape, Data: t.Data[i*size : (i+1)*size]}
	}
	return parts, nil
}

// Int64Tensor carries integer inputs such as token ids and timesteps.
type Int64Tensor struct {
	Shape []int64
	Data  []int64
}

func NewInt64Tensor(data []int64, shape ...int64) *Int64Tensor {
	if n := numElements(shape); n != len(data) {
		panic(fmt.Sprintf("model: shape %v holds %d elements, got %d", shape, n, len(data)))
	}
	return &Int64Tensor{Shape: append([]int64(nil), shape...), Data: data}
}

func (t *Int64Tensor) value() (ort.Value, error) {
	return ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
}

// Float16Tensor holds float32 values that are narrowed to IEEE half precision
// when handed to the runtime.
type Float16Tensor struct {
	*Tensor
}

// Half marks t to be sent as float16.
func Half(t *Tensor) *Float16Tensor { return &Float16Tensor{Tensor: t} }

func (t *Float16Tensor) value() (ort.Value, error) {
	return ort.NewCustomDataTensor(ort.NewShape(t.Shape...), encodeHalf(t.Data), ort.TensorElementDataTypeFloat16)
}

func encodeHalf(data []float32) []byte {
	buf := make([]byte, 2*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
	}
	return buf
}

func decodeHalf(buf []byte) []float32 {
	out := make([]float32, len(buf)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
	}
	return out
}

func numElements(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
