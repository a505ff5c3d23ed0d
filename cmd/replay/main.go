// replay runs, stores and inspects replay opcode streams.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/colorfulnotion/replay/asm"
	"github.com/colorfulnotion/replay/interpreter"
	"github.com/colorfulnotion/replay/log"
	"github.com/colorfulnotion/replay/replay"
	"github.com/colorfulnotion/replay/storage"
	"github.com/colorfulnotion/replay/trace"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

// captureFlags select a capture either from a stream file or from the store.
type captureFlags struct {
	db           string
	capture      string
	name         string
	constants    string
	volatileSize uint32
	resources    []string
}

func (f *captureFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.db, "db", "", "capture store directory")
	cmd.Flags().StringVar(&f.capture, "capture", "", "capture id in the store (instead of a stream file)")
	cmd.Flags().StringVar(&f.name, "name", "", "capture name (defaults to the file name)")
	cmd.Flags().StringVar(&f.constants, "constants", "", "file holding the constant segment")
	cmd.Flags().Uint32Var(&f.volatileSize, "volatile-size", 4096, "initial volatile reservation in bytes")
	cmd.Flags().StringArrayVar(&f.resources, "resource", nil, "resource as id=path, repeatable")
}

// fromFile builds a capture from the stream file at path and the flags.
func (f *captureFlags) fromFile(path string) (*storage.Capture, error) {
	words, err := readWords(path)
	if err != nil {
		return nil, err
	}
	c := &storage.Capture{
		Name:         f.name,
		Instructions: words,
		VolatileSize: f.volatileSize,
		Resources:    make(map[uint32][]byte),
	}
	if c.Name == "" {
		c.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if f.constants != "" {
		if c.Constants, err = os.ReadFile(f.constants); err != nil {
			return nil, err
		}
	}
	for _, r := range f.resources {
		idStr, file, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("resource %q: want id=path", r)
		}
		id, err := strconv.ParseUint(idStr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", r, err)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		c.Resources[uint32(id)] = data
	}
	return c, nil
}

func (f *captureFlags) openStore() (*storage.CaptureStore, error) {
	if f.db == "" {
		return nil, fmt.Errorf("--db is required")
	}
	return storage.NewCaptureStore(f.db)
}

// load returns the selected capture.
func (f *captureFlags) load(args []string) (*storage.Capture, error) {
	if f.capture == "" {
		if len(args) != 1 {
			return nil, fmt.Errorf("need a stream file or --capture")
		}
		return f.fromFile(args[0])
	}
	store, err := f.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	id, err := storage.ParseCaptureID(f.capture)
	if err != nil {
		return nil, err
	}
	return store.GetCapture(id)
}

// readWords loads an opcode stream: assembly text, a generator script or raw
// little-endian words.
func readWords(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".asm", ".s", ".txt":
		return asm.Assemble(string(data))
	case ".js":
		return generate(string(data))
	}
	return asm.DecodeWords(data)
}

// stubRenderers builds renderer tables from api:id:arity specs.
func stubRenderers(rec *replay.RecordingRenderer, specs []string) (replay.RendererSet, error) {
	fns := make(map[uint8]map[uint16]interpreter.Function)
	for _, spec := range specs {
		api, id, arity, err := replay.ParseStub(spec)
		if err != nil {
			return nil, err
		}
		if fns[api] == nil {
			fns[api] = make(map[uint16]interpreter.Function)
		}
		fns[api][id] = replay.Stub(fmt.Sprintf("fn_%d_%04x", api, id), arity)
	}
	set := make(replay.RendererSet, len(fns))
	for api, table := range fns {
		set[api] = rec.Table(api, table)
	}
	return set, nil
}

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		debug    string
	)
	var rootCmd = &cobra.Command{
		Use:     "replay",
		Short:   "Replay interpreter for captured opcode streams",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.InitLogger(logLevel); err != nil {
				return err
			}
			log.EnableModules(debug)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma separated modules logged at debug and trace (interp,memory,replay,storage,trace)")

	rootCmd.AddCommand(
		newRunCmd(),
		newImportCmd(),
		newListCmd(),
		newDisasmCmd(),
		newReplCmd(),
		newDiffCmd(),
		newStatsCmd(),
		newScriptCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		cf         captureFlags
		tracePath  string
		stubs      []string
		stackDepth uint32
		capacity   uint32
		otlp       string
		insecure   bool
	)
	cmd := &cobra.Command{
		Use:   "run [stream]",
		Short: "Replay a stream file or a stored capture",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := replay.NewRecordingRenderer()
			renderers, err := stubRenderers(rec, stubs)
			if err != nil {
				return err
			}
			cfg := replay.DefaultConfig()
			cfg.StackDepth = stackDepth
			cfg.VolatileCapacity = capacity

			ctx := context.Background()
			opts := []replay.Option{replay.WithPostSink(replay.LogSink{})}
			if otlp != "" {
				tp, err := newTracerProvider(ctx, otlp, insecure)
				if err != nil {
					return err
				}
				defer tp.Shutdown(ctx)
				opts = append(opts, replay.WithTracerProvider(tp))
			}
			if tracePath != "" {
				w, err := trace.NewJSONLTraceWriterFile(tracePath)
				if err != nil {
					return err
				}
				defer w.Close()
				opts = append(opts, replay.WithStepTracer(trace.NewStreamingRecorder(w)))
			}

			var s *replay.Session
			if cf.capture != "" {
				store, err := cf.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				id, err := storage.ParseCaptureID(cf.capture)
				if err != nil {
					return err
				}
				if s, err = replay.OpenSession(cfg, store, id, renderers, opts...); err != nil {
					return err
				}
			} else {
				c, err := cf.load(args)
				if err != nil {
					return err
				}
				if s, err = replay.NewSession(cfg, c, renderers, opts...); err != nil {
					return err
				}
			}

			runErr := s.Run(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "label %d, %d renderer calls, stack depth %d\n",
				s.Interpreter().Label(), len(rec.Calls()), s.Interpreter().Stack().Len())
			return runErr
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVar(&tracePath, "trace", "", "write a JSONL step trace to this file")
	cmd.Flags().StringArrayVar(&stubs, "stub", nil, "stub renderer function as api:id:arity, repeatable")
	cmd.Flags().Uint32Var(&stackDepth, "stack-depth", replay.DefaultConfig().StackDepth, "operand stack capacity")
	cmd.Flags().Uint32Var(&capacity, "volatile-capacity", replay.DefaultConfig().VolatileCapacity, "upper bound for EXTEND reservations")
	cmd.Flags().StringVar(&otlp, "otlp-endpoint", "", "export run spans over OTLP/HTTP to host:port")
	cmd.Flags().BoolVar(&insecure, "otlp-insecure", false, "use plain HTTP for the OTLP exporter")
	return cmd
}

func newImportCmd() *cobra.Command {
	var cf captureFlags
	cmd := &cobra.Command{
		Use:   "import <stream>",
		Short: "Store a stream file with its constants and resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.fromFile(args[0])
			if err != nil {
				return err
			}
			store, err := cf.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			id, err := store.PutCapture(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cf.register(cmd)
	return cmd
}

func newListCmd() *cobra.Command {
	var cf captureFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cf.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			infos, err := store.ListCaptures()
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %8d instructions %4d resources\n",
					info.ID, info.Name, info.Instructions, info.Resources)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cf.db, "db", "", "capture store directory")
	return cmd
}
