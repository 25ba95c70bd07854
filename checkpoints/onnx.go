package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-autoencoder/layers"
)

// ONNX protobuf constants. The model file is encoded directly with
// protowire against the onnx.proto field numbers, so there is no
// generated code to keep in sync.
const (
	onnxIRVersion    = 7
	onnxOpsetVersion = 13
	onnxProducerName = "go-autoencoder"

	onnxDataTypeFloat   = 1
	onnxDataTypeInt64   = 7
	onnxDataTypeFloat16 = 10
)

// ModelProto field numbers.
const (
	fieldModelIRVersion   = 1
	fieldModelProducer    = 2
	fieldModelProducerVer = 3
	fieldModelGraph       = 7
	fieldModelOpsetImport = 8
)

// GraphProto field numbers.
const (
	fieldGraphNode        = 1
	fieldGraphName        = 2
	fieldGraphInitializer = 5
	fieldGraphInput       = 11
	fieldGraphOutput      = 12
)

// NodeProto field numbers.
const (
	fieldNodeInput     = 1
	fieldNodeOutput    = 2
	fieldNodeName      = 3
	fieldNodeOpType    = 4
	fieldNodeAttribute = 5
)

// AttributeProto field numbers and type codes.
const (
	fieldAttrName  = 1
	fieldAttrFloat = 2
	fieldAttrInt   = 3
	fieldAttrStr   = 4
	fieldAttrInts  = 8
	fieldAttrType  = 20

	attrTypeFloat  = 1
	attrTypeInt    = 2
	attrTypeString = 3
	attrTypeInts   = 7
)

// TensorProto field numbers.
const (
	fieldTensorDims     = 1
	fieldTensorDataType = 2
	fieldTensorName     = 8
	fieldTensorRawData  = 9
)

// ONNXExporter writes a checkpoint as an ONNX model so trained
// autoencoders can be served by standard inference runtimes.
type ONNXExporter struct {
	halfPrecision bool
}

// NewONNXExporter creates a new ONNX exporter.
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// SetHalfPrecision switches weight payloads and activations to
// float16.
func (oe *ONNXExporter) SetHalfPrecision(enabled bool) {
	oe.halfPrecision = enabled
}

// ExportToONNX writes the checkpoint as a binary ONNX model file.
func (oe *ONNXExporter) ExportToONNX(checkpoint *Checkpoint, path string) error {
	if len(checkpoint.Weights) == 0 {
		return fmt.Errorf("checkpoint has no weights to export")
	}
	if len(checkpoint.Architecture.EncoderBlocks) == 0 || len(checkpoint.Architecture.DecoderBlocks) == 0 {
		return fmt.Errorf("checkpoint has no architecture description")
	}

	graph, err := oe.buildGraph(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to build ONNX graph: %v", err)
	}

	var model []byte
	model = appendVarintField(model, fieldModelIRVersion, onnxIRVersion)
	model = appendStringField(model, fieldModelProducer, onnxProducerName)
	model = appendStringField(model, fieldModelProducerVer, "1.0.0")
	model = appendMessageField(model, fieldModelGraph, graph)

	// OperatorSetIdProto: domain (1) empty for the default domain,
	// version (2).
	opset := appendVarintField(nil, 2, onnxOpsetVersion)
	model = appendMessageField(model, fieldModelOpsetImport, opset)

	if err := os.WriteFile(path, model, 0o644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %v", err)
	}
	return nil
}

func (oe *ONNXExporter) elemType() int {
	if oe.halfPrecision {
		return onnxDataTypeFloat16
	}
	return onnxDataTypeFloat
}

// buildGraph walks the architecture in forward order and emits one
// ONNX node per layer, wiring checkpoint weights in as initializers.
func (oe *ONNXExporter) buildGraph(checkpoint *Checkpoint) ([]byte, error) {
	weights := make(map[string]WeightTensor, len(checkpoint.Weights))
	for _, w := range checkpoint.Weights {
		weights[w.Name] = w
	}

	var graph []byte
	graph = appendStringField(graph, fieldGraphName, "autoencoder")

	arch := checkpoint.Architecture
	current := "input"

	appendWeight := func(name string) error {
		w, ok := weights[name]
		if !ok {
			return fmt.Errorf("missing weight %s", name)
		}
		graph = appendMessageField(graph, fieldGraphInitializer,
			oe.encodeTensor(w.Name, w.Shape, w.Data))
		return nil
	}
	appendStat := func(name string) error {
		data, ok := checkpoint.RunningStatistics[name]
		if !ok {
			return fmt.Errorf("missing running statistic %s", name)
		}
		graph = appendMessageField(graph, fieldGraphInitializer,
			oe.encodeTensor(name, []int{len(data)}, data))
		return nil
	}

	emitBlocks := func(prefix string, blocks []layers.ConvBlockConfig) error {
		for i, cfg := range blocks {
			blockName := fmt.Sprintf("%s.block%d", prefix, i)

			switch cfg.Resize {
			case layers.MaxPool:
				out := blockName + ".pool_out"
				graph = appendMessageField(graph, fieldGraphNode, encodeNode(
					blockName+".resize", "MaxPool",
					[]string{current}, []string{out},
					attrInts("kernel_shape", []int64{int64(cfg.ResizeFactor), int64(cfg.ResizeFactor)}),
					attrInts("strides", []int64{int64(cfg.ResizeFactor), int64(cfg.ResizeFactor)}),
				))
				current = out
			case layers.UpsampleNearest:
				scalesName := blockName + ".scales"
				graph = appendMessageField(graph, fieldGraphInitializer,
					encodeFloatTensor(scalesName, []int{4},
						[]float32{1, 1, float32(cfg.ResizeFactor), float32(cfg.ResizeFactor)}))

				out := blockName + ".resize_out"
				graph = appendMessageField(graph, fieldGraphNode, encodeNode(
					blockName+".resize", "Resize",
					[]string{current, "", scalesName}, []string{out},
					attrString("mode", "nearest"),
					attrString("nearest_mode", "floor"),
					attrString("coordinate_transformation_mode", "asymmetric"),
				))
				current = out
			default:
				return fmt.Errorf("block %s has unsupported resize operator %s", blockName, cfg.Resize)
			}

			for j := 0; j < cfg.NumHiddenLayers; j++ {
				convName := fmt.Sprintf("%s.conv%d", blockName, j)
				bnName := fmt.Sprintf("%s.bn%d", blockName, j)

				for _, n := range []string{convName + ".weight", convName + ".bias", bnName + ".weight", bnName + ".bias"} {
					if err := appendWeight(n); err != nil {
						return err
					}
				}
				for _, n := range []string{bnName + ".running_mean", bnName + ".running_var"} {
					if err := appendStat(n); err != nil {
						return err
					}
				}

				p := int64(cfg.Padding)
				convOut := convName + "_out"
				graph = appendMessageField(graph, fieldGraphNode, encodeNode(
					convName, "Conv",
					[]string{current, convName + ".weight", convName + ".bias"},
					[]string{convOut},
					attrInts("kernel_shape", []int64{3, 3}),
					attrInts("pads", []int64{p, p, p, p}),
					attrInts("strides", []int64{1, 1}),
				))

				bnOut := bnName + "_out"
				graph = appendMessageField(graph, fieldGraphNode, encodeNode(
					bnName, "BatchNormalization",
					[]string{convOut, bnName + ".weight", bnName + ".bias",
						bnName + ".running_mean", bnName + ".running_var"},
					[]string{bnOut},
					attrFloat("epsilon", 1e-5),
				))

				reluOut := fmt.Sprintf("%s.relu%d_out", blockName, j)
				graph = appendMessageField(graph, fieldGraphNode, encodeNode(
					fmt.Sprintf("%s.relu%d", blockName, j), "Relu",
					[]string{bnOut}, []string{reluOut}))
				current = reluOut
			}
		}
		return nil
	}

	if err := emitBlocks("encoder", arch.EncoderBlocks); err != nil {
		return nil, err
	}

	// Bottleneck: flatten to [N, C*H*W] and restore, matching the
	// adapter shape contract between encoder and decoder.
	c, h, w := arch.AdapterShape[0], arch.AdapterShape[1], arch.AdapterShape[2]
	latent := int64(c * h * w)

	graph = appendMessageField(graph, fieldGraphInitializer,
		encodeInt64Tensor("latent_shape", []int{2}, []int64{0, latent}))
	graph = appendMessageField(graph, fieldGraphNode, encodeNode(
		"encoder.flatten", "Reshape",
		[]string{current, "latent_shape"}, []string{"latent"}))

	graph = appendMessageField(graph, fieldGraphInitializer,
		encodeInt64Tensor("adapter_shape", []int{4}, []int64{0, int64(c), int64(h), int64(w)}))
	graph = appendMessageField(graph, fieldGraphNode, encodeNode(
		"decoder.unflatten", "Reshape",
		[]string{"latent", "adapter_shape"}, []string{"decoder.input"}))
	current = "decoder.input"

	if err := emitBlocks("decoder", arch.DecoderBlocks); err != nil {
		return nil, err
	}

	graph = appendMessageField(graph, fieldGraphNode, encodeNode(
		"output.identity", "Identity",
		[]string{current}, []string{"output"}))

	inCh := arch.EncoderBlocks[0].InChannels
	outCh := arch.DecoderBlocks[len(arch.DecoderBlocks)-1].OutChannels
	size := arch.InputSize

	graph = appendMessageField(graph, fieldGraphInput,
		oe.encodeValueInfo("input", inCh, size))
	graph = appendMessageField(graph, fieldGraphOutput,
		oe.encodeValueInfo("output", outCh, size))

	return graph, nil
}

// encodeTensor encodes a float tensor initializer, in float16 when
// half precision is enabled.
func (oe *ONNXExporter) encodeTensor(name string, shape []int, data []float32) []byte {
	if oe.halfPrecision {
		raw := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(raw[2*i:], float16.Fromfloat32(v).Bits())
		}
		return encodeRawTensor(name, shape, onnxDataTypeFloat16, raw)
	}
	return encodeFloatTensor(name, shape, data)
}

func encodeFloatTensor(name string, shape []int, data []float32) []byte {
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return encodeRawTensor(name, shape, onnxDataTypeFloat, raw)
}

func encodeInt64Tensor(name string, shape []int, data []int64) []byte {
	raw := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(v))
	}
	return encodeRawTensor(name, shape, onnxDataTypeInt64, raw)
}

func encodeRawTensor(name string, shape []int, dataType int, raw []byte) []byte {
	var t []byte
	for _, d := range shape {
		t = appendVarintField(t, fieldTensorDims, uint64(d))
	}
	t = appendVarintField(t, fieldTensorDataType, uint64(dataType))
	t = appendStringField(t, fieldTensorName, name)
	t = appendMessageField(t, fieldTensorRawData, raw)
	return t
}

// encodeValueInfo encodes a graph input/output with a symbolic batch
// dimension. A zero spatial size emits symbolic height/width too.
func (oe *ONNXExporter) encodeValueInfo(name string, channels, size int) []byte {
	var dims []byte
	// TensorShapeProto.Dimension: dim_value (1) or dim_param (3).
	dims = appendMessageField(dims, 1, appendStringField(nil, 3, "batch"))
	dims = appendMessageField(dims, 1, appendVarintField(nil, 1, uint64(channels)))
	for i := 0; i < 2; i++ {
		if size > 0 {
			dims = appendMessageField(dims, 1, appendVarintField(nil, 1, uint64(size)))
		} else {
			dims = appendMessageField(dims, 1, appendStringField(nil, 3, "size"))
		}
	}

	// TypeProto.Tensor: elem_type (1), shape (2).
	var tt []byte
	tt = appendVarintField(tt, 1, uint64(oe.elemType()))
	tt = appendMessageField(tt, 2, dims)

	// TypeProto: tensor_type (1).
	typ := appendMessageField(nil, 1, tt)

	// ValueInfoProto: name (1), type (2).
	var vi []byte
	vi = appendStringField(vi, 1, name)
	vi = appendMessageField(vi, 2, typ)
	return vi
}

func encodeNode(name, opType string, inputs, outputs []string, attrs ...[]byte) []byte {
	var n []byte
	for _, in := range inputs {
		n = appendStringField(n, fieldNodeInput, in)
	}
	for _, out := range outputs {
		n = appendStringField(n, fieldNodeOutput, out)
	}
	n = appendStringField(n, fieldNodeName, name)
	n = appendStringField(n, fieldNodeOpType, opType)
	for _, a := range attrs {
		n = appendMessageField(n, fieldNodeAttribute, a)
	}
	return n
}

func attrInts(name string, values []int64) []byte {
	var a []byte
	a = appendStringField(a, fieldAttrName, name)
	for _, v := range values {
		a = appendVarintField(a, fieldAttrInts, uint64(v))
	}
	a = appendVarintField(a, fieldAttrType, attrTypeInts)
	return a
}

func attrFloat(name string, value float32) []byte {
	var a []byte
	a = appendStringField(a, fieldAttrName, name)
	a = protowire.AppendTag(a, fieldAttrFloat, protowire.Fixed32Type)
	a = protowire.AppendFixed32(a, math.Float32bits(value))
	a = appendVarintField(a, fieldAttrType, attrTypeFloat)
	return a
}

func attrString(name, value string) []byte {
	var a []byte
	a = appendStringField(a, fieldAttrName, name)
	a = appendStringField(a, fieldAttrStr, value)
	a = appendVarintField(a, fieldAttrType, attrTypeString)
	return a
}

func appendVarintField(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, field protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessageField(b []byte, field protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
