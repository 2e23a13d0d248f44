package perception

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxDatagramSize bounds one perception datagram. A 478-point mesh as JSON
// is roughly 30KB.
const MaxDatagramSize = 64 * 1024

type datagram struct {
	Seq      uint64         `json:"seq"`
	Blink    bool           `json:"blink"`
	Features []float64      `json:"features"`
	Gaze     []float64      `json:"gaze"`
	Faces    [][][3]float64 `json:"faces"`
}

// DecodeDatagram parses one perception datagram:
//
//	{"seq":n,"blink":bool,"features":[...]|null,"gaze":[x,y]|null,"faces":[[[x,y,z],...],...]}
//
// at is recorded as the capture time.
func DecodeDatagram(b []byte, at time.Time) (*Frame, error) {
	var d datagram
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode datagram: %w", err)
	}

	f := &Frame{Seq: d.Seq, CapturedAt: at, Blink: d.Blink}
	if d.Features != nil || d.Gaze != nil {
		f.Features = &Features{Vector: d.Features}
		if d.Gaze != nil {
			if len(d.Gaze) != 2 {
				return nil, fmt.Errorf("decode datagram %d: gaze has %d values, want 2", d.Seq, len(d.Gaze))
			}
			f.Features.Gaze = &Point{X: d.Gaze[0], Y: d.Gaze[1]}
		}
	}

	if len(d.Faces) > 0 {
		f.Faces = make([]Face, len(d.Faces))
		for i, raw := range d.Faces {
			face := make(Face, len(raw))
			for j, p := range raw {
				face[j] = Landmark{X: p[0], Y: p[1], Z: p[2]}
			}
			f.Faces[i] = face
		}
	}
	return f, nil
}

// EncodeDatagram is the inverse of DecodeDatagram. Used by tooling and
// tests that play the perception side.
func EncodeDatagram(f *Frame) ([]byte, error) {
	d := datagram{Seq: f.Seq, Blink: f.Blink}
	if f.Features != nil {
		d.Features = f.Features.Vector
		if f.Features.Gaze != nil {
			d.Gaze = []float64{f.Features.Gaze.X, f.Features.Gaze.Y}
		}
	}
	for _, face := range f.Faces {
		raw := make([][3]float64, len(face))
		for j, p := range face {
			raw[j] = [3]float64{p.X, p.Y, p.Z}
		}
		d.Faces = append(d.Faces, raw)
	}
	return json.Marshal(d)
}
