package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/detdb/core/engine"
	"github.com/sushant-115/detdb/pkg/logger"
)

const runLimit = 1 << 20

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  submit [n]      open n new transactions (default 1)")
	fmt.Fprintln(out, "  step <id> [n]   yield n events of a held transaction (default 1)")
	fmt.Fprintln(out, "  next            take a suspended transaction back from the protocol")
	fmt.Fprintln(out, "  run             step the lowest held transaction until everything closed")
	fmt.Fprintln(out, "  held            list the transactions that can be stepped")
	fmt.Fprintln(out, "  results         list closed transactions")
	fmt.Fprintln(out, "  store           dump the durable store")
	fmt.Fprintln(out, "  help")
	fmt.Fprintln(out, "  exit / quit")
}

// processCommand handles one line. It returns false when the shell should exit.
func processCommand(s *session, args []string) bool {
	if len(args) == 0 || args[0] == "" {
		return true
	}
	out := s.out
	fail := func(err error) { fmt.Fprintf(out, "Error: %v\n", err) }

	switch strings.ToLower(args[0]) {
	case "submit":
		n := 1
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v < 1 {
				fail(fmt.Errorf("submit takes a positive count"))
				return true
			}
			n = v
		}
		ids, err := s.submit(n)
		if err != nil {
			fail(err)
		}
		fmt.Fprintf(out, "submitted %v\n", ids)
	case "step":
		if len(args) < 2 {
			fail(fmt.Errorf("step requires a transaction id"))
			return true
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fail(err)
			return true
		}
		n := 1
		if len(args) > 2 {
			if n, err = strconv.Atoi(args[2]); err != nil {
				fail(err)
				return true
			}
		}
		for i := 0; i < n; i++ {
			if err := s.step(id); err != nil {
				fail(err)
				break
			}
		}
	case "next":
		if id, ok := s.next(); ok {
			fmt.Fprintf(out, "resumed %d\n", id)
		} else {
			fmt.Fprintln(out, "nothing to resume")
		}
	case "run":
		steps, err := s.run(runLimit)
		if err != nil {
			fail(err)
		}
		fmt.Fprintf(out, "%d steps\n", steps)
	case "held":
		fmt.Fprintf(out, "%v\n", s.ids())
	case "results":
		for _, id := range slices.Sorted(maps.Keys(s.results)) {
			res := s.results[id]
			fmt.Fprintf(out, "  %d ok=%t value=%d\n", id, res.Ok, res.Value)
		}
	case "store":
		snap := s.store.Snapshot()
		for _, k := range slices.Sorted(maps.Keys(snap)) {
			fmt.Fprintf(out, "  %d=%d\n", k, snap[k])
		}
	case "help":
		printHelp(out)
	case "exit", "quit":
		return false
	default:
		fail(fmt.Errorf("unknown command %q, type 'help' for a list of commands", args[0]))
	}
	return true
}

func main() {
	protocol := flag.String("protocol", engine.Sparkle, "one of "+strings.Join(engine.Protocols(), ", "))
	seed := flag.Uint64("seed", 1145141919810, "workload seed")
	vrng := flag.Uint64("range", 16, "key and value range")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	zlogger, err := logger.New(logger.Config{Level: *logLevel, Format: "console", OutputFile: "stderr", Service: "detdb_cli"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zlogger.Sync()

	s, err := newSession(*protocol, *seed, *vrng, os.Stdout, zlogger)
	if err != nil {
		zlogger.Fatal("Failed to start session", zap.Error(err))
	}

	// Non-interactive: one command from the arguments.
	if flag.NArg() > 0 {
		processCommand(s, flag.Args())
		return
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:            fmt.Sprintf("detdb[%s]> ", *protocol),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		zlogger.Fatal("Failed to start readline", zap.Error(err))
	}
	defer l.Close()
	s.out = l.Stdout()

	fmt.Fprintln(s.out, "detdb CLI. Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := l.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return
			}
			continue
		}
		if !processCommand(s, strings.Fields(line)) {
			return
		}
	}
}
