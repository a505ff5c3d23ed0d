package trace

import (
	"golang.org/x/crypto/blake2b"
)

// maxInlinePosted is the largest POST payload kept verbatim in a step; longer
// payloads are replaced by their blake2b-256 hash.
const maxInlinePosted = 32

// Step is one executed instruction of a replay run.
type Step struct {
	Index     int    `json:"index"`
	Opcode    uint32 `json:"opcode"`
	OpcodeStr string `json:"opcodeStr,omitempty"`
	Label     uint32 `json:"label"`
	Depth     int    `json:"depth"`

	Error        *string `json:"error,omitempty"`
	PostedLength *uint64 `json:"postedLength,omitempty"`
	PostedBytes  []byte  `json:"postedBytes,omitempty"` // blake2b-256 when more than 32 bytes were posted
}

func NewStep(index int, opcode uint32, label uint32, depth int) *Step {
	return &Step{
		Index:  index,
		Opcode: opcode,
		Label:  label,
		Depth:  depth,
	}
}

func (s *Step) SetError(err error) {
	if err == nil {
		s.Error = nil
		return
	}
	msg := err.Error()
	s.Error = &msg
}

func (s *Step) SetPosted(data []byte) {
	length := uint64(len(data))
	s.PostedLength = &length
	switch {
	case len(data) == 0:
		s.PostedBytes = nil
	case len(data) > maxInlinePosted:
		h := blake2b.Sum256(data)
		s.PostedBytes = h[:]
	default:
		s.PostedBytes = make([]byte, len(data))
		copy(s.PostedBytes, data)
	}
}

// Failed reports whether the instruction terminated the run.
func (s *Step) Failed() bool { return s.Error != nil }
