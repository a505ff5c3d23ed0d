package asm

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/replay/interpreter"
	"github.com/xlab/treeprint"
	"golang.org/x/exp/slices"
)

// DisassembledInstruction represents a decoded opcode
type DisassembledInstruction struct {
	Offset int
	Opcode uint32
	Inst   interpreter.Instruction
	Text   string
	Err    error
}

// Disassemble decodes every word of the stream. Undecodable words are kept
// with Err set so offsets stay aligned with the input.
func Disassemble(words []uint32) []DisassembledInstruction {
	out := make([]DisassembledInstruction, len(words))
	for k, w := range words {
		d := DisassembledInstruction{Offset: k, Opcode: w}
		d.Inst, d.Err = interpreter.Decode(w)
		if d.Err != nil {
			d.Text = fmt.Sprintf(".word 0x%08x", w)
		} else {
			d.Text = Format(d.Inst)
		}
		out[k] = d
	}
	return out
}

// DisassembleToString returns a formatted listing of the stream.
func DisassembleToString(words []uint32) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; %d instructions\n", len(words)))
	for _, d := range Disassemble(words) {
		comment := fmt.Sprintf("0x%08x", d.Opcode)
		if d.Err != nil {
			comment += " " + d.Err.Error()
		}
		sb.WriteString(fmt.Sprintf("%6d: %-30s ; %s\n", d.Offset, d.Text, comment))
	}
	return sb.String()
}

// Tree groups the stream by LABEL instructions: every label opens a branch
// holding the instructions up to the next label.
func Tree(words []uint32) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("stream (%d instructions)", len(words)))
	var branch treeprint.Tree
	for _, d := range Disassemble(words) {
		if d.Err == nil && d.Inst.Code == interpreter.LABEL {
			branch = tree.AddBranch(fmt.Sprintf("label %d @%d", d.Inst.Data, d.Offset))
			continue
		}
		if branch == nil {
			branch = tree.AddBranch("preamble")
		}
		branch.AddMetaNode(d.Offset, d.Text)
	}
	return tree
}

// Histogram counts instructions by kind; undecodable words are not counted.
type Histogram map[interpreter.InstructionCode]int

func CountInstructions(words []uint32) Histogram {
	h := make(Histogram)
	for _, w := range words {
		if inst, err := interpreter.Decode(w); err == nil {
			h[inst.Code]++
		}
	}
	return h
}

// Codes returns the instruction kinds present in h in code order.
func (h Histogram) Codes() []interpreter.InstructionCode {
	codes := make([]interpreter.InstructionCode, 0, len(h))
	for c := range h {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}
