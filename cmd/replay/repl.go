package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/replay/asm"
	"github.com/colorfulnotion/replay/interpreter"
	"github.com/colorfulnotion/replay/replay"
	"github.com/colorfulnotion/replay/storage"
	"github.com/spf13/cobra"
)

// repl executes one instruction per input line against a long-lived session.
type repl struct {
	s    *replay.Session
	sink *replay.BufferSink
	rec  *replay.RecordingRenderer
}

func newRepl(cfg replay.Config, constants []byte, volatileSize uint32, stubs []string) (*repl, error) {
	r := &repl{sink: &replay.BufferSink{}, rec: replay.NewRecordingRenderer()}
	renderers, err := stubRenderers(r.rec, stubs)
	if err != nil {
		return nil, err
	}
	c := &storage.Capture{Name: "repl", Constants: constants, VolatileSize: volatileSize}
	if r.s, err = replay.NewSession(cfg, c, renderers, replay.WithPostSink(r.sink)); err != nil {
		return nil, err
	}
	return r, nil
}

// exec handles one line and reports whether the session should end.
func (r *repl) exec(line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	if k := strings.IndexByte(line, ';'); k >= 0 {
		line = strings.TrimSpace(line[:k])
	}
	vm := r.s.Interpreter()
	switch line {
	case "":
		return false
	case "exit", ":quit", ":q":
		return true
	case ":stack":
		fmt.Fprintln(out, vm.Stack().String())
		return false
	case ":label":
		fmt.Fprintln(out, vm.Label())
		return false
	case ":posts":
		for _, p := range r.sink.Posts() {
			fmt.Fprintf(out, "[%d] %d bytes %x\n", p.Label, len(p.Data), p.Data)
		}
		return false
	case ":calls":
		for _, c := range r.rec.Calls() {
			fmt.Fprintln(out, c)
		}
		return false
	}

	w, err := asm.AssembleLine(line)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return false
	}
	if !vm.Run([]uint32{w}) {
		_, err := vm.LastFailure()
		fmt.Fprintln(out, "error:", err)
		return false
	}
	if top, err := vm.Stack().Top(); err == nil {
		fmt.Fprintf(out, "ok  depth %d top %s\n", vm.Stack().Len(), top)
		return false
	}
	fmt.Fprintln(out, "ok  depth 0")
	return false
}

func newReplCmd() *cobra.Command {
	var (
		constants    string
		volatileSize uint32
		stubs        []string
	)
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Execute instructions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if constants != "" {
				var err error
				if data, err = os.ReadFile(constants); err != nil {
					return err
				}
			}
			r, err := newRepl(replay.DefaultConfig(), data, volatileSize, stubs)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "replay> ",
				HistoryFile:     filepath.Join(os.TempDir(), "replay_history.txt"),
				AutoComplete:    mnemonicCompleter(),
				InterruptPrompt: "^C",
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			fmt.Fprintln(rl.Stdout(), "one instruction per line, e.g. PUSH_I int32 5; :stack :label :posts :calls :quit")
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if err != nil {
					return nil
				}
				if r.exec(line, rl.Stdout()) {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&constants, "constants", "", "file holding the constant segment")
	cmd.Flags().Uint32Var(&volatileSize, "volatile-size", 4096, "initial volatile reservation in bytes")
	cmd.Flags().StringArrayVar(&stubs, "stub", nil, "stub renderer function as api:id:arity, repeatable")
	return cmd
}

func mnemonicCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, interpreter.InstructionCodeCount)
	for c := interpreter.InstructionCode(0); c < interpreter.InstructionCodeCount; c++ {
		items = append(items, readline.PcItem(c.String()))
	}
	return readline.NewPrefixCompleter(items...)
}
