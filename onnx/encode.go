package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encode serializes the graph description back into a ModelProto. Only the
// fields read by Parse are written. Initializers carry a name and a float data
// type, plus dims and values when g.Weights has an entry for them.
func Encode(g *Graph) []byte {
	var graph []byte
	for _, n := range g.Nodes {
		graph = appendMessage(graph, graphNode, encodeNode(n))
	}
	if g.Name != "" {
		graph = appendString(graph, graphName, g.Name)
	}
	for _, name := range g.Initializers {
		graph = appendMessage(graph, graphInitializer, encodeInitializer(name, g.Weights[name]))
	}
	for _, v := range g.Inputs {
		graph = appendMessage(graph, graphInput, encodeValueInfo(v))
	}
	for _, v := range g.Outputs {
		graph = appendMessage(graph, graphOutput, encodeValueInfo(v))
	}

	var model []byte
	model = protowire.AppendTag(model, modelIRVersion, protowire.VarintType)
	model = protowire.AppendVarint(model, uint64(g.IRVersion))
	if g.Producer != "" {
		model = appendString(model, modelProducer, g.Producer)
	}
	model = appendMessage(model, modelGraph, graph)

	var opset []byte
	opset = protowire.AppendTag(opset, opsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, uint64(g.Opset))
	model = appendMessage(model, modelOpsetImport, opset)
	return model
}

func encodeInitializer(name string, w Weight) []byte {
	var t []byte
	for _, d := range w.Dims {
		t = protowire.AppendTag(t, tensorDims, protowire.VarintType)
		t = protowire.AppendVarint(t, uint64(d))
	}
	t = protowire.AppendTag(t, tensorDataType, protowire.VarintType)
	t = protowire.AppendVarint(t, uint64(ElemTypeFloat))
	if len(w.Values) > 0 {
		packed := make([]byte, 0, 4*len(w.Values))
		for _, v := range w.Values {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		t = appendMessage(t, tensorFloatData, packed)
	}
	return appendString(t, tensorName, name)
}

func encodeNode(n Node) []byte {
	var b []byte
	for _, name := range n.Inputs {
		b = appendString(b, nodeInput, name)
	}
	for _, name := range n.Outputs {
		b = appendString(b, nodeOutput, name)
	}
	if n.Name != "" {
		b = appendString(b, nodeName, n.Name)
	}
	return appendString(b, nodeOpType, n.OpType)
}

func encodeValueInfo(v ValueInfo) []byte {
	var shape []byte
	for _, d := range v.Shape {
		var dim []byte
		if d >= 0 {
			dim = protowire.AppendTag(dim, dimValue, protowire.VarintType)
			dim = protowire.AppendVarint(dim, uint64(d))
		} else {
			dim = appendString(dim, dimParam, "N")
		}
		shape = appendMessage(shape, shapeDim, dim)
	}

	var tensor []byte
	tensor = protowire.AppendTag(tensor, tensorTypeElem, protowire.VarintType)
	tensor = protowire.AppendVarint(tensor, uint64(v.ElemType))
	tensor = appendMessage(tensor, tensorTypeShape, shape)

	var b []byte
	b = appendString(b, valueInfoName, v.Name)
	return appendMessage(b, valueInfoType, appendMessage(nil, typeTensor, tensor))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
