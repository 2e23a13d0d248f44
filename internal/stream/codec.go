package stream

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// Wire encoding. Descriptors and samples travel as google.protobuf.Struct
// over gRPC and as the equivalent JSON over MQTT and WebSocket. NaN has no
// JSON form, so sentinel channels are encoded as null.

type descriptorJSON struct {
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	SourceID      string         `json:"source_id"`
	ChannelCount  int            `json:"channel_count"`
	NominalRate   float64        `json:"nominal_rate"`
	ChannelFormat string         `json:"channel_format"`
	ChunkSize     int            `json:"chunk_size"`
	MaxBuffered   int            `json:"max_buffered"`
	Labels        []string       `json:"labels"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type sampleJSON struct {
	Stream    string     `json:"stream"`
	Timestamp float64    `json:"timestamp"`
	Values    []*float64 `json:"values"`
}

// MarshalJSON encodes the descriptor with its buffering hints.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptorJSON{
		Name:          d.name,
		Type:          d.typ,
		SourceID:      d.sourceID,
		ChannelCount:  len(d.labels),
		NominalRate:   d.rate,
		ChannelFormat: ChannelFormat,
		ChunkSize:     ChunkSize,
		MaxBuffered:   MaxBuffered,
		Labels:        d.labels,
		Metadata:      d.metadata,
	})
}

// UnmarshalJSON decodes a descriptor produced by MarshalJSON.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w descriptorJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	desc, err := NewDescriptor(DescriptorConfig{
		Name:        w.Name,
		Type:        w.Type,
		SourceID:    w.SourceID,
		NominalRate: w.NominalRate,
		Labels:      w.Labels,
		Metadata:    w.Metadata,
	})
	if err != nil {
		return err
	}
	*d = desc
	return nil
}

// EncodeSampleJSON encodes s for stream name.
func EncodeSampleJSON(name string, s Sample) ([]byte, error) {
	return json.Marshal(sampleJSON{Stream: name, Timestamp: s.Timestamp, Values: nullableValues(s.Values)})
}

// DecodeSampleJSON is the inverse of EncodeSampleJSON.
func DecodeSampleJSON(data []byte) (string, Sample, error) {
	var w sampleJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return "", Sample{}, err
	}
	return w.Stream, Sample{Timestamp: w.Timestamp, Values: fromNullable(w.Values)}, nil
}

func nullableValues(vs []float64) []*float64 {
	out := make([]*float64, len(vs))
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = &v
	}
	return out
}

func fromNullable(vs []*float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}

// DescriptorToStruct encodes d as a protobuf Struct.
func DescriptorToStruct(d Descriptor) (*structpb.Struct, error) {
	labels := make([]*structpb.Value, len(d.labels))
	for i, l := range d.labels {
		labels[i] = structpb.NewStringValue(l)
	}
	fields := map[string]*structpb.Value{
		"name":           structpb.NewStringValue(d.name),
		"type":           structpb.NewStringValue(d.typ),
		"source_id":      structpb.NewStringValue(d.sourceID),
		"channel_count":  structpb.NewNumberValue(float64(len(d.labels))),
		"nominal_rate":   structpb.NewNumberValue(d.rate),
		"channel_format": structpb.NewStringValue(ChannelFormat),
		"chunk_size":     structpb.NewNumberValue(ChunkSize),
		"max_buffered":   structpb.NewNumberValue(MaxBuffered),
		"labels":         structpb.NewListValue(&structpb.ListValue{Values: labels}),
	}
	if d.metadata != nil {
		meta, err := structpb.NewStruct(plainMetadata(d.metadata))
		if err != nil {
			return nil, fmt.Errorf("encode metadata for %s: %w", d.name, err)
		}
		fields["metadata"] = structpb.NewStructValue(meta)
	}
	return &structpb.Struct{Fields: fields}, nil
}

// DescriptorFromStruct decodes a Struct produced by DescriptorToStruct.
func DescriptorFromStruct(s *structpb.Struct) (Descriptor, error) {
	f := s.GetFields()
	var labels []string
	for _, v := range f["labels"].GetListValue().GetValues() {
		labels = append(labels, v.GetStringValue())
	}
	var meta map[string]any
	if m := f["metadata"].GetStructValue(); m != nil {
		meta = m.AsMap()
	}
	return NewDescriptor(DescriptorConfig{
		Name:        f["name"].GetStringValue(),
		Type:        f["type"].GetStringValue(),
		SourceID:    f["source_id"].GetStringValue(),
		NominalRate: f["nominal_rate"].GetNumberValue(),
		Labels:      labels,
		Metadata:    meta,
	})
}

// SampleToStruct encodes s for stream name. NaN channels become null.
func SampleToStruct(name string, s Sample) *structpb.Struct {
	values := make([]*structpb.Value, len(s.Values))
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			values[i] = structpb.NewNullValue()
			continue
		}
		values[i] = structpb.NewNumberValue(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"stream":    structpb.NewStringValue(name),
		"timestamp": structpb.NewNumberValue(s.Timestamp),
		"values":    structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// SampleFromStruct decodes a Struct produced by SampleToStruct.
func SampleFromStruct(s *structpb.Struct) (string, Sample) {
	f := s.GetFields()
	raw := f["values"].GetListValue().GetValues()
	values := make([]float64, len(raw))
	for i, v := range raw {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
			values[i] = math.NaN()
			continue
		}
		values[i] = v.GetNumberValue()
	}
	return f["stream"].GetStringValue(), Sample{Timestamp: f["timestamp"].GetNumberValue(), Values: values}
}

// plainMetadata converts typed slices to []any, the only list form
// structpb accepts.
func plainMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return plainMetadata(t)
	case []string:
		c := make([]any, len(t))
		for i, s := range t {
			c[i] = s
		}
		return c
	case []any:
		c := make([]any, len(t))
		for i := range t {
			c[i] = plainValue(t[i])
		}
		return c
	default:
		return v
	}
}
