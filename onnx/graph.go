// Package onnx - Lightweight inspection of ONNX model files.
//
// The runtime parses and compiles models on its own; this package only reads
// enough of the ModelProto wire format to learn the graph's declared inputs,
// outputs and activation tensor names before the model is handed over.
package onnx

import (
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ElemType mirrors TensorProto.DataType.
type ElemType int32

// Element types that appear in classifier graphs.
const (
	ElemTypeUndefined ElemType = 0
	ElemTypeFloat     ElemType = 1
	ElemTypeUint8     ElemType = 2
	ElemTypeInt8      ElemType = 3
	ElemTypeInt64     ElemType = 7
	ElemTypeFloat16   ElemType = 10
	ElemTypeBFloat16  ElemType = 16
)

// String returns the ONNX name of the element type.
func (t ElemType) String() string {
	switch t {
	case ElemTypeFloat:
		return "float"
	case ElemTypeUint8:
		return "uint8"
	case ElemTypeInt8:
		return "int8"
	case ElemTypeInt64:
		return "int64"
	case ElemTypeFloat16:
		return "float16"
	case ElemTypeBFloat16:
		return "bfloat16"
	default:
		return "undefined"
	}
}

// ValueInfo is a named graph input or output.
type ValueInfo struct {
	// Name is the tensor name used to bind buffers.
	Name string `json:"name" yaml:"name"`
	// ElemType is the declared element type.
	ElemType ElemType `json:"elem_type" yaml:"elem_type"`
	// Shape holds one entry per dimension; symbolic or unknown dims are -1.
	Shape []int64 `json:"shape" yaml:"shape"`
}

// Node is one operator of the graph.
type Node struct {
	Name    string
	OpType  string
	Inputs  []string
	Outputs []string
}

// Weight is a float initializer payload.
type Weight struct {
	Dims   []int64
	Values []float32
}

// Graph is the subset of a ModelProto needed to provision an engine.
type Graph struct {
	// Name of the graph.
	Name string
	// Producer is the tool that exported the model.
	Producer string
	// IRVersion is the ONNX IR version.
	IRVersion int64
	// Opset is the default-domain operator set version.
	Opset int64
	// Inputs are the graph inputs that are not initializers.
	Inputs []ValueInfo
	// Outputs are the graph outputs.
	Outputs []ValueInfo
	// Nodes in declaration order.
	Nodes []Node
	// Initializers names the constant tensors (weights).
	Initializers []string
	// Weights holds initializer payloads for Encode. Parse leaves it empty.
	Weights map[string]Weight
	// Data is the raw model file.
	Data []byte
}

// ModelProto, GraphProto, NodeProto, ValueInfoProto and TypeProto field numbers.
const (
	modelIRVersion   protowire.Number = 1
	modelProducer    protowire.Number = 2
	modelGraph       protowire.Number = 7
	modelOpsetImport protowire.Number = 8

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12

	nodeInput  protowire.Number = 1
	nodeOutput protowire.Number = 2
	nodeName   protowire.Number = 3
	nodeOpType protowire.Number = 4

	valueInfoName protowire.Number = 1
	valueInfoType protowire.Number = 2

	typeTensor protowire.Number = 1

	tensorTypeElem  protowire.Number = 1
	tensorTypeShape protowire.Number = 2

	shapeDim protowire.Number = 1

	dimValue protowire.Number = 1
	dimParam protowire.Number = 2

	tensorDims      protowire.Number = 1
	tensorDataType  protowire.Number = 2
	tensorFloatData protowire.Number = 4
	tensorName      protowire.Number = 8
)

// field is one decoded key/value pair of a protobuf message.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// fields walks the top-level fields of a protobuf message.
func fields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "malformed field tag")
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "malformed field %d", num)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile reads and parses the model at path.
//
// Arguments:
//   - path: Location of the .onnx file.
//
// Returns:
//   - *Graph: The parsed graph, holding the file contents in Data.
//   - error: The read error as returned by os.ReadFile, or a parse error.
func ReadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes the graph description of a serialized ModelProto.
//
// Arguments:
//   - data: The model bytes.
//
// Returns:
//   - *Graph: The graph; Data aliases the input slice.
//   - error: An error if the bytes are not a ModelProto with a graph.
func Parse(data []byte) (*Graph, error) {
	if len(data) == 0 {
		return nil, errors.New("empty model")
	}

	g := &Graph{Data: data}
	var graph []byte
	err := fields(data, func(f field) error {
		switch {
		case f.num == modelIRVersion && f.typ == protowire.VarintType:
			g.IRVersion = int64(f.varint)
		case f.num == modelProducer && f.typ == protowire.BytesType:
			g.Producer = string(f.bytes)
		case f.num == modelGraph && f.typ == protowire.BytesType:
			graph = f.bytes
		case f.num == modelOpsetImport && f.typ == protowire.BytesType:
			domain, version, err := parseOpset(f.bytes)
			if err != nil {
				return err
			}
			if domain == "" || domain == "ai.onnx" {
				g.Opset = version
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode model")
	}
	if graph == nil {
		return nil, errors.New("model has no graph")
	}
	if err := parseGraph(graph, g); err != nil {
		return nil, errors.Wrap(err, "decode graph")
	}
	return g, nil
}

func parseOpset(b []byte) (string, int64, error) {
	var domain string
	var version int64
	err := fields(b, func(f field) error {
		switch {
		case f.num == opsetDomain && f.typ == protowire.BytesType:
			domain = string(f.bytes)
		case f.num == opsetVersion && f.typ == protowire.VarintType:
			version = int64(f.varint)
		}
		return nil
	})
	return domain, version, err
}

func parseGraph(b []byte, g *Graph) error {
	var inputs []ValueInfo
	err := fields(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case graphName:
			g.Name = string(f.bytes)
		case graphNode:
			n, err := parseNode(f.bytes)
			if err != nil {
				return errors.Wrapf(err, "node %d", len(g.Nodes))
			}
			g.Nodes = append(g.Nodes, n)
		case graphInitializer:
			name, err := parseTensorName(f.bytes)
			if err != nil {
				return errors.Wrapf(err, "initializer %d", len(g.Initializers))
			}
			g.Initializers = append(g.Initializers, name)
		case graphInput:
			v, err := parseValueInfo(f.bytes)
			if err != nil {
				return errors.Wrapf(err, "input %d", len(inputs))
			}
			inputs = append(inputs, v)
		case graphOutput:
			v, err := parseValueInfo(f.bytes)
			if err != nil {
				return errors.Wrapf(err, "output %d", len(g.Outputs))
			}
			g.Outputs = append(g.Outputs, v)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Older exporters list weights as graph inputs too.
	constant := make(map[string]struct{}, len(g.Initializers))
	for _, name := range g.Initializers {
		constant[name] = struct{}{}
	}
	for _, v := range inputs {
		if _, ok := constant[v.Name]; !ok {
			g.Inputs = append(g.Inputs, v)
		}
	}
	return nil
}

func parseNode(b []byte) (Node, error) {
	var n Node
	err := fields(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case nodeInput:
			n.Inputs = append(n.Inputs, string(f.bytes))
		case nodeOutput:
			n.Outputs = append(n.Outputs, string(f.bytes))
		case nodeName:
			n.Name = string(f.bytes)
		case nodeOpType:
			n.OpType = string(f.bytes)
		}
		return nil
	})
	return n, err
}

func parseTensorName(b []byte) (string, error) {
	var name string
	err := fields(b, func(f field) error {
		if f.num == tensorName && f.typ == protowire.BytesType {
			name = string(f.bytes)
		}
		return nil
	})
	return name, err
}

func parseValueInfo(b []byte) (ValueInfo, error) {
	var v ValueInfo
	err := fields(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case valueInfoName:
			v.Name = string(f.bytes)
		case valueInfoType:
			return fields(f.bytes, func(t field) error {
				if t.num != typeTensor || t.typ != protowire.BytesType {
					return nil
				}
				return parseTensorType(t.bytes, &v)
			})
		}
		return nil
	})
	return v, err
}

func parseTensorType(b []byte, v *ValueInfo) error {
	return fields(b, func(f field) error {
		switch {
		case f.num == tensorTypeElem && f.typ == protowire.VarintType:
			v.ElemType = ElemType(f.varint)
		case f.num == tensorTypeShape && f.typ == protowire.BytesType:
			v.Shape = []int64{}
			return fields(f.bytes, func(d field) error {
				if d.num != shapeDim || d.typ != protowire.BytesType {
					return nil
				}
				dim := int64(-1)
				err := fields(d.bytes, func(x field) error {
					if x.num == dimValue && x.typ == protowire.VarintType {
						dim = int64(x.varint)
					}
					return nil
				})
				v.Shape = append(v.Shape, dim)
				return err
			})
		}
		return nil
	})
}

// Tensors lists every activation tensor of the graph: graph inputs, node
// outputs and graph outputs, without initializers, each name once, in graph
// order.
func (g *Graph) Tensors() []string {
	constant := make(map[string]struct{}, len(g.Initializers))
	for _, name := range g.Initializers {
		constant[name] = struct{}{}
	}

	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := constant[name]; ok {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for _, v := range g.Inputs {
		add(v.Name)
	}
	for _, n := range g.Nodes {
		for _, name := range n.Inputs {
			add(name)
		}
		for _, name := range n.Outputs {
			add(name)
		}
	}
	for _, v := range g.Outputs {
		add(v.Name)
	}
	return names
}
