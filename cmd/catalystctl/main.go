// catalystctl is a small standalone tool alongside the main daemon: it
// posts an action envelope read from a file (or stdin) to a running
// catalystd's admin ingress and prints back the resulting commit, for
// poking at a node by hand the way debug-raw pokes at a raw Kafka
// topic.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := "http://localhost:8080"
	path := "-"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}
	if len(os.Args) > 2 {
		path = os.Args[2]
	}

	body, err := readEnvelope(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading envelope: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(addr+"/v1/actions", "application/json", body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "posting action: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "decoding response: %v\n", err)
		os.Exit(1)
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== %s (%s) ===\n%s\n", addr+"/v1/actions", resp.Status, pretty)

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func readEnvelope(path string) (io.Reader, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
