// mock-action-runner is a test helper binary that answers the action runner
// JSON-RPC protocol over stdio for integration testing.
//
//go:build ignore

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  struct {
		Action      string         `json:"action"`
		Arguments   map[string]any `json:"arguments"`
		DataFile    string         `json:"data_file"`
		Environment string         `json:"environment"`
		Interface   int            `json:"interface"`
	} `json:"params"`
}

type response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   any    `json:"error,omitempty"`
}

var actions = map[string][]string{
	"list_departments": {"status"},
	"create_employee":  {"email"},
}

func main() {
	fmt.Fprintln(os.Stderr, "mock-action-runner: listening")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if req.Method == "shutdown" {
			os.Exit(0)
		}

		resp := response{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "invoke":
			if req.Params.Action == "fail" {
				resp.Error = map[string]any{"code": -32000, "message": "action failed"}
				break
			}
			resp.Result = map[string]any{
				"action":      req.Params.Action,
				"arguments":   req.Params.Arguments,
				"data_file":   req.Params.DataFile,
				"environment": req.Params.Environment,
			}
		case "describe":
			required, ok := actions[req.Params.Action]
			if !ok {
				resp.Result = map[string]any{"error": "unknown action"}
				break
			}
			props := map[string]any{}
			for _, p := range required {
				props[p] = map[string]any{"type": "string"}
			}
			resp.Result = map[string]any{"function": map[string]any{
				"name":       req.Params.Action,
				"parameters": map[string]any{"properties": props, "required": required},
			}}
		default:
			resp.Error = map[string]any{
				"code":    -32601,
				"message": fmt.Sprintf("method %q not found", req.Method),
			}
		}

		data, _ := json.Marshal(resp)
		fmt.Fprintln(os.Stdout, string(data))
	}
}
