package providers

import (
	"context"

	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Model is a loaded ONNX Runtime session.
type Model struct {
	session *ort.DynamicAdvancedSession
	inputs  []inference.TensorInfo
	outputs []inference.TensorInfo
}

// Inputs returns the declared inputs.
func (m *Model) Inputs() []inference.TensorInfo { return m.inputs }

// Outputs returns the declared outputs.
func (m *Model) Outputs() []inference.TensorInfo { return m.outputs }

// Allocate creates a float tensor with dynamic dimensions resolved to 1.
func (m *Model) Allocate(info inference.TensorInfo) (inference.DeviceBuffer, error) {
	t, err := ort.NewEmptyTensor[float32](ort.NewShape(info.ConcreteShape()...))
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %s", info.Name)
	}
	return &Buffer{tensor: t}, nil
}

// Execute runs the session once. The runtime moves tensor data to the device.
func (m *Model) Execute(_ context.Context, inputs, outputs []inference.DeviceBuffer) error {
	in, err := values(inputs)
	if err != nil {
		return err
	}
	out, err := values(outputs)
	if err != nil {
		return err
	}
	return errors.Wrap(m.session.Run(in, out), "run session")
}

// Close destroys the session.
func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return errors.Wrap(err, "error destroying ORT session")
}

func values(buffers []inference.DeviceBuffer) ([]ort.Value, error) {
	out := make([]ort.Value, len(buffers))
	for i, b := range buffers {
		buf, ok := b.(*Buffer)
		if !ok {
			return nil, errors.Errorf("buffer %d is a %T, not an ONNX Runtime tensor", i, b)
		}
		out[i] = buf.tensor
	}
	return out, nil
}

// Buffer is an ONNX Runtime tensor.
type Buffer struct {
	tensor *ort.Tensor[float32]
}

// Len returns the element count.
func (b *Buffer) Len() int {
	return len(b.tensor.GetData())
}

// CopyFromHost fills the tensor.
func (b *Buffer) CopyFromHost(src []float32) error {
	dst := b.tensor.GetData()
	if len(src) != len(dst) {
		return errors.Errorf("copy of %d elements into tensor of %d", len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

// CopyToHost reads the tensor.
func (b *Buffer) CopyToHost(dst []float32) error {
	src := b.tensor.GetData()
	if len(src) != len(dst) {
		return errors.Errorf("copy of %d elements into host slice of %d", len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

// Close destroys the tensor.
func (b *Buffer) Close() error {
	return b.tensor.Destroy()
}
