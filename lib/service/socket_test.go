// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/messhall-labs/messhall/lib/codec"
	"github.com/messhall-labs/messhall/lib/testutil"
)

// sendRequest connects to a Unix socket, sends a CBOR request, and
// returns the decoded response envelope.
func sendRequest(t *testing.T, socketPath string, request any) Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}

	// Signal that we're done writing (half-close). CBOR is self-
	// delimiting so this isn't required by the protocol, but it's
	// good hygiene.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

// decodeData unmarshals the Data field of a response into the given
// target. Fails the test if decoding fails.
func decodeData(t *testing.T, response Response, target any) {
	t.Helper()
	if len(response.Data) == 0 {
		t.Fatal("response has no data to decode")
	}
	if err := codec.Unmarshal(response.Data, target); err != nil {
		t.Fatalf("decoding response data: %v", err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startSocketServer runs the server in a goroutine, waits for the
// socket file to appear, and registers cleanup that stops the server
// and waits for Serve to return.
func startSocketServer(t *testing.T, server *SocketServer, socketPath string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	// Wait for the socket to come up. The server removes any stale
	// file before listening, so a dialable socket means Serve has
	// started accepting.
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("socket %s did not come up: %v", socketPath, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve to return")
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	})
}

func TestSocketServerActionRoundTrip(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ops.sock")
	server := NewSocketServer(socketPath, testLogger())

	type statusResult struct {
		State string `cbor:"state"`
		Sites int    `cbor:"sites"`
	}
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return statusResult{State: "idle", Sites: 3}, nil
	})

	startSocketServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "status"})
	if !response.OK {
		t.Fatalf("response.OK = false, error = %q", response.Error)
	}

	var result statusResult
	decodeData(t, response, &result)
	if result.State != "idle" {
		t.Errorf("result.State = %q, want %q", result.State, "idle")
	}
	if result.Sites != 3 {
		t.Errorf("result.Sites = %d, want 3", result.Sites)
	}
}

func TestSocketServerHandlerReceivesRawRequest(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ops.sock")
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("sync", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Action string `cbor:"action"`
			Site   string `cbor:"site"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if request.Site == "" {
			return nil, errors.New("missing required field: site")
		}
		return map[string]string{"site": request.Site}, nil
	})

	startSocketServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{
		"action": "sync",
		"site":   "chennai-plant",
	})
	if !response.OK {
		t.Fatalf("response.OK = false, error = %q", response.Error)
	}
	var result map[string]string
	decodeData(t, response, &result)
	if result["site"] != "chennai-plant" {
		t.Errorf("result site = %q, want %q", result["site"], "chennai-plant")
	}

	// A request missing the action-specific field gets the handler's
	// error back in the envelope.
	response = sendRequest(t, socketPath, map[string]any{"action": "sync"})
	if response.OK {
		t.Fatal("response.OK = true, want false")
	}
	if !strings.Contains(response.Error, "site") {
		t.Errorf("response.Error = %q, want mention of site", response.Error)
	}
}

func TestSocketServerNilResultOmitsData(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ops.sock")
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})

	startSocketServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "ping"})
	if !response.OK {
		t.Fatalf("response.OK = false, error = %q", response.Error)
	}
	if len(response.Data) != 0 {
		t.Errorf("response.Data has %d bytes, want none", len(response.Data))
	}
}

func TestSocketServerUnknownAction(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ops.sock")
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})

	startSocketServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "reboot"})
	if response.OK {
		t.Fatal("response.OK = true, want false")
	}
	if !strings.Contains(response.Error, "unknown action") {
		t.Errorf("response.Error = %q, want 'unknown action'", response.Error)
	}
}

func TestSocketServerMissingAction(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ops.sock")
	server := NewSocketServer(socketPath, testLogger())

	startSocketServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"site": "chennai"})
	if response.OK {
		t.Fatal("response.OK = true, want false")
	}
	if !strings.Contains(response.Error, "action") {
		t.Errorf("response.Error = %q, want mention of action", response.Error)
	}
}

func TestSocketServerMalformedRequest(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ops.sock")
	server := NewSocketServer(socketPath, testLogger())

	startSocketServer(t, server, socketPath)

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	// 0xff is not a valid CBOR data item head at the top level.
	if _, err := conn.Write([]byte{0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.OK {
		t.Fatal("response.OK = true, want false")
	}
	if !strings.Contains(response.Error, "invalid request") {
		t.Errorf("response.Error = %q, want 'invalid request'", response.Error)
	}
}

func TestSocketServerDuplicateHandlerPanics(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ops.sock")
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})

	defer func() {
		if r := recover(); r == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
}

func TestSocketServerRemovesStaleSocket(t *testing.T) {
	dir := testutil.SocketDir(t)
	socketPath := filepath.Join(dir, "ops.sock")

	// Leave a stale socket file behind, as an unclean shutdown would.
	stale, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("creating stale socket: %v", err)
	}
	stale.Close()

	server := NewSocketServer(socketPath, testLogger())
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})

	startSocketServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "status"})
	if !response.OK {
		t.Fatalf("response.OK = false, error = %q", response.Error)
	}
}

func TestSocketServerConcurrentRequests(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ops.sock")
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			N int `cbor:"n"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]int{"n": request.N}, nil
	})

	startSocketServer(t, server, socketPath)

	const clients = 8
	results := make(chan error, clients)
	for i := range clients {
		go func() {
			conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
			if err != nil {
				results <- err
				return
			}
			defer conn.Close()
			if err := codec.NewEncoder(conn).Encode(map[string]any{"action": "echo", "n": i}); err != nil {
				results <- err
				return
			}
			var response Response
			if err := codec.NewDecoder(conn).Decode(&response); err != nil {
				results <- err
				return
			}
			if !response.OK {
				results <- errors.New(response.Error)
				return
			}
			var result map[string]int
			if err := codec.Unmarshal(response.Data, &result); err != nil {
				results <- err
				return
			}
			if result["n"] != i {
				results <- fmt.Errorf("echo returned %d, want %d", result["n"], i)
				return
			}
			results <- nil
		}()
	}

	for range clients {
		if err := testutil.RequireReceive(t, results, 5*time.Second, "client to finish"); err != nil {
			t.Errorf("client error: %v", err)
		}
	}
}
