// Command es40mon is an interactive client for es40's control socket,
// adapted from minimega's own `mm` line-editor attach loop
// (pkg/miniclient/client.go's Conn.Attach) but driving
// internal/monitor's JSON request/reply/event protocol instead of
// minimega's gob-framed command pipe.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/es40emu/es40/internal/monitor"
	"github.com/peterh/liner"
)

var f_socket = flag.String("socket", "/var/run/es40.sock", "path to the es40 control socket")

// knownCommands drives liner's tab completion; it isn't an exhaustive
// protocol registry, just the handful of commands cmd/es40 wires up.
var knownCommands = []string{
	"query-status",
	"query-pci",
	"save-state",
	"inject-key",
	"quit",
	"help",
}

func main() {
	flag.Parse()

	conn, err := monitor.Dial(*f_socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "es40mon: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	go watchEvents(conn)

	attach(conn)
}

// watchEvents prints asynchronous server notifications (SHUTDOWN and
// friends) as they arrive, interleaved with the prompt loop below.
func watchEvents(conn *monitor.Conn) {
	for ev := range conn.Events() {
		fmt.Printf("\n*** event: %s %v\n", ev.Event, ev.Data)
	}
}

// attach runs the interactive prompt loop, mirroring miniclient's
// Conn.Attach: a liner prompt, local shortcut handling for quit/
// disconnect, everything else sent to the server and its reply
// printed.
func attach(conn *monitor.Conn) {
	fmt.Println("CAUTION: 'quit' will cause the es40 instance to shut down")
	fmt.Println("use 'disconnect' or ^d to exit just this client")
	fmt.Println()

	input := liner.NewLiner()
	defer input.Close()

	input.SetCtrlCAborts(true)
	input.SetTabCompletionStyle(liner.TabPrints)
	input.SetCompleter(func(line string) []string {
		var matches []string
		for _, c := range knownCommands {
			if strings.HasPrefix(c, line) {
				matches = append(matches, c)
			}
		}
		return matches
	})

	prompt := fmt.Sprintf("es40:%s$ ", *f_socket)

	var confirmingQuit bool
	for {
		line, err := input.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "es40mon: %v\n", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		input.AppendHistory(line)

		if line == "disconnect" {
			return
		}
		if line == "help" {
			printHelp()
			continue
		}
		if line == "quit" && !confirmingQuit {
			fmt.Println("enter 'quit' again to confirm shutting down es40")
			confirmingQuit = true
			continue
		}
		confirmingQuit = false

		command, args, err := parseLine(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		ret, err := conn.Execute(command, args)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if ret != nil {
			fmt.Printf("%v\n", ret)
		}
	}
}

func printHelp() {
	fmt.Println("commands:")
	for _, c := range knownCommands {
		fmt.Println("  " + c)
	}
	fmt.Println("arguments are given as key=value pairs, e.g.:")
	fmt.Println("  save-state path=/tmp/es40.state")
	fmt.Println("  inject-key code=30 release=false")
}

// parseLine splits "command key=value key2=value2" into the command
// name and a JSON-shaped argument map, guessing numbers and booleans
// from their literal form since the monitor wire protocol has no
// separate argument grammar of its own to parse against.
func parseLine(line string) (string, map[string]interface{}, error) {
	fields := strings.Fields(line)
	command := fields[0]
	if len(fields) == 1 {
		return command, nil, nil
	}

	args := make(map[string]interface{}, len(fields)-1)
	for _, f := range fields[1:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			return "", nil, fmt.Errorf("es40mon: malformed argument %q, want key=value", f)
		}
		args[kv[0]] = coerce(kv[1])
	}
	return command, args, nil
}

// coerce guesses a value's JSON type from its literal spelling so that
// e.g. "code=30" arrives at the server as a number, matching what
// cmd/es40's inject-key handler expects from a JSON-decoded argument.
func coerce(s string) interface{} {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
