package asm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/replay/interpreter"
	"github.com/colorfulnotion/replay/replayerrors"
)

// Assemble parses one instruction per line. Everything after ';' is a
// comment. Examples:
//
//	LABEL 1
//	PUSH_I int32 5
//	LOAD uint8
//	CALL 3 0x10 push
//	.word 0xffffffff
func Assemble(src string) ([]uint32, error) {
	var words []uint32
	sc := bufio.NewScanner(strings.NewReader(src))
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if k := strings.IndexByte(text, ';'); k >= 0 {
			text = text[:k]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		w, err := assembleFields(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		words = append(words, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

// AssembleLine assembles a single instruction.
func AssembleLine(line string) (uint32, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty line", replayerrors.ErrDMalformedAssembly)
	}
	return assembleFields(fields)
}

// assembleFields encodes one instruction, or emits the raw word of a .word
// directive as written by the disassembler for undecodable words.
func assembleFields(fields []string) (uint32, error) {
	if fields[0] == ".word" {
		if len(fields) != 2 {
			return 0, fmt.Errorf("%w: .word takes 1 operand, got %d", replayerrors.ErrDMalformedAssembly, len(fields)-1)
		}
		v, err := parseUint(fields[1], 32)
		if err != nil {
			return 0, err
		}
		return uint32(v), nil
	}
	inst, err := parseInstruction(fields)
	if err != nil {
		return 0, err
	}
	return Encode(inst)
}

func parseInstruction(fields []string) (interpreter.Instruction, error) {
	c, ok := interpreter.ParseInstructionCode(strings.ToUpper(fields[0]))
	if !ok {
		return interpreter.Instruction{}, fmt.Errorf("%w: unknown mnemonic %q", replayerrors.ErrDMalformedAssembly, fields[0])
	}
	inst := interpreter.Instruction{Code: c}
	args := fields[1:]
	layout := interpreter.Layout(c)

	want := 0
	switch {
	case c == interpreter.CALL:
		if len(args) == 3 && args[2] == "push" {
			inst.PushReturn = true
			args = args[:2]
		}
		want = 2
	case layout.Has(interpreter.FieldType | interpreter.FieldData20):
		want = 2
	case layout.Has(interpreter.FieldType), layout.Has(interpreter.FieldData26):
		want = 1
	}
	if len(args) != want {
		return inst, fmt.Errorf("%w: %s takes %d operands, got %d", replayerrors.ErrDMalformedAssembly, c, want, len(args))
	}

	if c == interpreter.CALL {
		api, err := parseUint(args[0], 8)
		if err != nil {
			return inst, err
		}
		id, err := parseUint(args[1], 16)
		if err != nil {
			return inst, err
		}
		inst.API, inst.FunctionID = uint8(api), uint16(id)
		return inst, nil
	}
	if layout.Has(interpreter.FieldType) {
		t, ok := interpreter.ParseBaseType(args[0])
		if !ok {
			return inst, fmt.Errorf("%w: unknown type %q", replayerrors.ErrDMalformedAssembly, args[0])
		}
		inst.Type = t
		args = args[1:]
	}
	if len(args) == 1 {
		v, err := parseUint(args[0], 32)
		if err != nil {
			return inst, err
		}
		inst.Data = uint32(v)
	}
	return inst, nil
}

func parseUint(s string, bits int) (uint64, error) {
	if len(s) == 3 && s[0] == '\'' && s[2] == '\'' {
		return uint64(s[1]), nil
	}
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: operand %q: %v", replayerrors.ErrDMalformedAssembly, s, err)
	}
	return v, nil
}

// Format renders inst in the syntax accepted by Assemble.
func Format(inst interpreter.Instruction) string {
	layout := interpreter.Layout(inst.Code)
	switch {
	case inst.Code == interpreter.CALL:
		s := fmt.Sprintf("CALL %d 0x%04x", inst.API, inst.FunctionID)
		if inst.PushReturn {
			s += " push"
		}
		return s
	case layout.Has(interpreter.FieldType | interpreter.FieldData20):
		return fmt.Sprintf("%s %s %d", inst.Code, inst.Type, inst.Data)
	case layout.Has(interpreter.FieldType):
		return fmt.Sprintf("%s %s", inst.Code, inst.Type)
	case layout.Has(interpreter.FieldData26):
		return fmt.Sprintf("%s %d", inst.Code, inst.Data)
	}
	return inst.Code.String()
}
