package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/kieranlane/gapengine/internal/coordinator"
)

var defaultSocketPath = filepath.Join(os.TempDir(), "tradeengine.sock")

// controlRequest is one line of the newline-delimited JSON protocol the
// running engine listens for on its Unix domain socket — the "stdout, no
// HTTP" inbound control surface.
type controlRequest struct {
	Command string `json:"command"`
	Symbol  string `json:"symbol,omitempty"`
}

type controlResponse struct {
	OK     bool                `json:"ok"`
	Error  string              `json:"error,omitempty"`
	Status *coordinator.Status `json:"status,omitempty"`
}

// controlServer accepts connections on a Unix socket and dispatches each
// request line to the coordinator. One connection handles exactly one
// request/response pair, mirroring a simple RPC-over-socket shape.
type controlServer struct {
	coord  *coordinator.Coordinator
	log    zerolog.Logger
	cancel context.CancelFunc
}

func serveControl(ctx context.Context, socketPath string, coord *coordinator.Coordinator, cancel context.CancelFunc, log zerolog.Logger) error {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket %s: %w", socketPath, err)
	}
	defer ln.Close()
	defer os.Remove(socketPath)

	srv := &controlServer{coord: coord, log: log, cancel: cancel}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("control socket accept: %w", err)
			}
		}
		go srv.handle(conn)
	}
}

func (s *controlServer) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	var req controlRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.reply(conn, controlResponse{Error: fmt.Sprintf("bad request: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch req.Command {
	case "stop":
		s.reply(conn, controlResponse{OK: true})
		s.cancel()
	case "status":
		status := s.coord.Status()
		s.reply(conn, controlResponse{OK: true, Status: &status})
	case "pause":
		s.coord.Pause()
		s.reply(conn, controlResponse{OK: true})
	case "resume":
		s.coord.Resume()
		s.reply(conn, controlResponse{OK: true})
	case "close-all":
		s.coord.CloseAll(ctx)
		s.reply(conn, controlResponse{OK: true})
	case "close-position":
		if req.Symbol == "" {
			s.reply(conn, controlResponse{Error: "symbol required"})
			return
		}
		if err := s.coord.ClosePosition(ctx, req.Symbol); err != nil {
			s.reply(conn, controlResponse{Error: err.Error()})
			return
		}
		s.reply(conn, controlResponse{OK: true})
	default:
		s.reply(conn, controlResponse{Error: fmt.Sprintf("unknown command %q", req.Command)})
	}
}

func (s *controlServer) reply(conn net.Conn, resp controlResponse) {
	w := bufio.NewWriter(conn)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("control response encode failed")
		return
	}
	_ = w.Flush()
}

// sendControlCommand is the thin client side every non-start subcommand
// uses: dial the socket, send one request line, return the decoded response
// (with an error when the engine replied not OK). Printing is left to the
// caller.
func sendControlCommand(socketPath string, req controlRequest) (controlResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 3*time.Second)
	if err != nil {
		return controlResponse{}, fmt.Errorf("connect to %s (is the engine running?): %w", socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return controlResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp controlResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return controlResponse{}, fmt.Errorf("read response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}
