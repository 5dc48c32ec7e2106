package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary checkpoint codec. The layout is a hand-rolled protobuf message
// (encoding/protowire): stable field numbers, varint/fixed64 scalars,
// length-delimited submessages, float32 weight data packed little-endian.
//
// Checkpoint:       1=weights(repeated msg) 2=training_state(msg)
//                   3=optimizer_state(msg)  4=metadata(msg)
// WeightTensor:     1=name 2=shape(packed varint) 3=data(bytes, f32le)
// TrainingState:    1=epoch 2=lr 3=best_loss 4=best_acc 5=total_steps
// OptimizerState:   1=type 2=param(repeated msg: 1=key 2=value) 3=slots
// Metadata:         1=version 2=framework 3=run_id 4=created_at(unixnano)
//                   5=description

func encodeBinary(c *Checkpoint) ([]byte, error) {
	var b []byte
	for i := range c.Weights {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeWeight(&c.Weights[i]))
	}

	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeTrainingState(&c.TrainingState))

	if c.OptimizerState != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOptimizerState(c.OptimizerState))
	}

	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeMetadata(&c.Metadata))
	return b, nil
}

func encodeWeight(w *WeightTensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, w.Name)

	var shape []byte
	for _, d := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	data := make([]byte, 4*len(w.Data))
	for i, v := range w.Data {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

func encodeTrainingState(ts *TrainingState) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.Epoch))
	b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.LearningRate))
	b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.BestLoss))
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.BestAccuracy))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.TotalSteps))
	return b
}

func encodeOptimizerState(os *OptimizerState) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, os.Type)

	for key, value := range os.Parameters {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, 2, protowire.Fixed64Type)
		entry = protowire.AppendFixed64(entry, math.Float64bits(value))
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	for i := range os.Slots {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeWeight(&os.Slots[i]))
	}
	return b
}

func encodeMetadata(m *Metadata) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Version)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.Framework)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.RunID)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CreatedAt.UnixNano()))
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, m.Description)
	return b
}

func decodeBinary(data []byte) (*Checkpoint, error) {
	c := &Checkpoint{TrainingState: TrainingState{BestLoss: math.Inf(1)}}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if typ != protowire.BytesType {
			return nil, fmt.Errorf("unexpected wire type %v for field %d", typ, num)
		}
		payload, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case 1:
			w, err := decodeWeight(payload)
			if err != nil {
				return nil, err
			}
			c.Weights = append(c.Weights, *w)
		case 2:
			ts, err := decodeTrainingState(payload)
			if err != nil {
				return nil, err
			}
			c.TrainingState = *ts
		case 3:
			opt, err := decodeOptimizerState(payload)
			if err != nil {
				return nil, err
			}
			c.OptimizerState = opt
		case 4:
			md, err := decodeMetadata(payload)
			if err != nil {
				return nil, err
			}
			c.Metadata = *md
		default:
			return nil, fmt.Errorf("unknown checkpoint field %d", num)
		}
	}
	return c, nil
}

func decodeWeight(data []byte) (*WeightTensor, error) {
	w := &WeightTensor{}
	err := eachField(data, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			w.Name = string(payload)
		case 2:
			for len(payload) > 0 {
				v, n := protowire.ConsumeVarint(payload)
				if n < 0 {
					return protowire.ParseError(n)
				}
				payload = payload[n:]
				w.Shape = append(w.Shape, int(v))
			}
		case 3:
			if len(payload)%4 != 0 {
				return fmt.Errorf("weight data length %d not a multiple of 4", len(payload))
			}
			w.Data = make([]float32, len(payload)/4)
			for i := range w.Data {
				w.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
			}
		}
		return nil
	})
	return w, err
}

func decodeTrainingState(data []byte) (*TrainingState, error) {
	ts := &TrainingState{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 1:
				ts.Epoch = int(v)
			case 5:
				ts.TotalSteps = int(v)
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 2:
				ts.LearningRate = math.Float64frombits(v)
			case 3:
				ts.BestLoss = math.Float64frombits(v)
			case 4:
				ts.BestAccuracy = math.Float64frombits(v)
			}
		default:
			return nil, fmt.Errorf("unexpected wire type %v in training state", typ)
		}
	}
	return ts, nil
}

func decodeOptimizerState(data []byte) (*OptimizerState, error) {
	opt := &OptimizerState{Parameters: make(map[string]float64)}
	err := eachField(data, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			opt.Type = string(payload)
		case 2:
			var key string
			var value float64
			for len(payload) > 0 {
				n2, typ, n := protowire.ConsumeTag(payload)
				if n < 0 {
					return protowire.ParseError(n)
				}
				payload = payload[n:]
				switch {
				case n2 == 1 && typ == protowire.BytesType:
					s, n := protowire.ConsumeBytes(payload)
					if n < 0 {
						return protowire.ParseError(n)
					}
					payload = payload[n:]
					key = string(s)
				case n2 == 2 && typ == protowire.Fixed64Type:
					v, n := protowire.ConsumeFixed64(payload)
					if n < 0 {
						return protowire.ParseError(n)
					}
					payload = payload[n:]
					value = math.Float64frombits(v)
				default:
					return fmt.Errorf("unexpected optimizer parameter field %d", n2)
				}
			}
			opt.Parameters[key] = value
		case 3:
			w, err := decodeWeight(payload)
			if err != nil {
				return err
			}
			opt.Slots = append(opt.Slots, *w)
		}
		return nil
	})
	return opt, err
}

func decodeMetadata(data []byte) (*Metadata, error) {
	md := &Metadata{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			payload, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 1:
				md.Version = string(payload)
			case 2:
				md.Framework = string(payload)
			case 3:
				md.RunID = string(payload)
			case 5:
				md.Description = string(payload)
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			if num == 4 {
				md.CreatedAt = time.Unix(0, int64(v)).UTC()
			}
		default:
			return nil, fmt.Errorf("unexpected wire type %v in metadata", typ)
		}
	}
	return md, nil
}

// eachField walks length-delimited fields of a submessage.
func eachField(data []byte, fn func(num protowire.Number, payload []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		if typ != protowire.BytesType {
			return fmt.Errorf("unexpected wire type %v for field %d", typ, num)
		}
		payload, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		if err := fn(num, payload); err != nil {
			return err
		}
	}
	return nil
}
