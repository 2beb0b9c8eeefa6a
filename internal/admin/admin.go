// Package admin implements the read-only introspection listener
// mptcpctl talks to: a line-delimited JSON protocol over a Unix domain
// socket, serving a snapshot of path manager state to the status, plugins
// and version requests (spec.md §6).
package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/mptcpd/mptcpd/internal/pathmanager"
)

// Request is a single line-delimited command sent by a client.
type Request struct {
	Command string `json:"command"`
}

// Response is the line-delimited reply to a Request.
type Response struct {
	Error     string           `json:"error,omitempty"`
	Ready     bool             `json:"ready,omitempty"`
	Dialect   string           `json:"dialect,omitempty"`
	Family    string           `json:"family,omitempty"`
	Addresses int              `json:"addresses,omitempty"`
	Plugins   []PluginResponse `json:"plugins,omitempty"`
	Version   string           `json:"version,omitempty"`
}

// PluginResponse describes one loaded plugin for the "plugins" command.
type PluginResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Loaded      bool   `json:"loaded"`
}

// ErrUnknownCommand indicates a request named a command this server does
// not implement.
var ErrUnknownCommand = errors.New("admin: unknown command")

// Provider is the subset of the path manager the admin listener reads
// from. Satisfied by *pathmanager.PathManager.
type Provider interface {
	Snapshot() pathmanager.Snapshot
}

// Server is the admin introspection listener (spec.md §6).
type Server struct {
	log        *slog.Logger
	socketPath string
	provider   Provider
	version    string

	ln net.Listener
}

// New creates an admin server bound to socketPath, serving snapshots from
// provider. version is echoed on the "version" command.
func New(log *slog.Logger, socketPath string, provider Provider, version string) *Server {
	return &Server{log: log, socketPath: socketPath, provider: provider, version: version}
}

// Run listens on the configured Unix socket and serves requests until ctx
// is cancelled. The socket file is removed on exit.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		ln.Close()
		return fmt.Errorf("admin: chmod %s: %w", s.socketPath, err)
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer os.Remove(s.socketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("admin: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(Response{Error: fmt.Sprintf("bad request: %v", err)})
			continue
		}

		resp, err := s.dispatch(req)
		if err != nil {
			resp = Response{Error: err.Error()}
		}
		if err := enc.Encode(resp); err != nil {
			if s.log != nil {
				s.log.Debug("admin: write response failed", "error", err)
			}
			return
		}
	}
}

func (s *Server) dispatch(req Request) (Response, error) {
	switch req.Command {
	case "status":
		snap := s.provider.Snapshot()
		return Response{Ready: snap.Ready, Dialect: snap.Dialect, Family: snap.FamilyName, Addresses: snap.Addresses}, nil
	case "plugins":
		snap := s.provider.Snapshot()
		plugins := make([]PluginResponse, 0, len(snap.Plugins))
		for _, p := range snap.Plugins {
			plugins = append(plugins, PluginResponse{Name: p.Name, Description: p.Description, Priority: p.Priority, Loaded: p.Loaded})
		}
		return Response{Plugins: plugins}, nil
	case "version":
		return Response{Version: s.version}, nil
	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
}
