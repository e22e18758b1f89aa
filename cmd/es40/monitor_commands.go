package main

import (
	"fmt"

	"github.com/es40emu/es40/internal/monitor"
)

// registerCommands wires the handful of control-socket commands
// es40mon drives interactively, adapted from the command-wrapper
// pattern internal/qmp/qmp.go uses for its own query-status/stop/cont
// set, but dispatched through monitor.Server's handler map instead of
// one method per command on a client connection.
func (s *system) registerCommands(mon *monitor.Server) {
	mon.Handle("query-status", func(args map[string]interface{}) (interface{}, error) {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		status := "running"
		if stopped {
			status = "shutdown"
		}
		return map[string]interface{}{"status": status}, nil
	})

	mon.Handle("query-pci", func(args map[string]interface{}) (interface{}, error) {
		var out []map[string]interface{}
		for _, r := range s.fab.Ranges() {
			out = append(out, map[string]interface{}{
				"name":   r.Name,
				"base":   fmt.Sprintf("%#x", r.Base),
				"length": r.Length,
			})
		}
		return out, nil
	})

	mon.Handle("save-state", func(args map[string]interface{}) (interface{}, error) {
		path, ok := args["path"].(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("save-state requires a \"path\" argument")
		}
		if err := s.save(path); err != nil {
			return nil, err
		}
		return map[string]interface{}{"saved": path}, nil
	})

	mon.Handle("inject-key", func(args map[string]interface{}) (interface{}, error) {
		code, ok := args["code"].(float64)
		if !ok {
			return nil, fmt.Errorf("inject-key requires a numeric \"code\" argument")
		}
		release, _ := args["release"].(bool)
		s.south.KBC.InjectKey(byte(code), release)
		return nil, nil
	})

	mon.Handle("quit", func(args map[string]interface{}) (interface{}, error) {
		go s.requestGraceful("monitor quit command")
		return nil, nil
	})
}
