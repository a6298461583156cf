package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Socket defaults used by the simulator's serial bridge
const (
	DefaultSocketHost = "127.0.0.1"
	DefaultSocketPort = "60001"
)

// LineSource yields trace lines one at a time. Next returns io.EOF at the
// end of the stream.
type LineSource interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// FileSource reads a trace file, optionally following it as it grows
type FileSource struct {
	f       *os.File
	r       *bufio.Reader
	follow  bool
	poll    time.Duration
	partial strings.Builder
}

// OpenFileSource opens path. When following without fromStart, reading
// begins at the current end of the file.
func OpenFileSource(path string, follow, fromStart bool, poll time.Duration) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	if follow && !fromStart {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to seek input %s: %w", path, err)
		}
	}
	return &FileSource{
		f:      f,
		r:      bufio.NewReader(f),
		follow: follow,
		poll:   poll,
	}, nil
}

// Next returns the next complete line. In follow mode a missing line is
// retried every poll interval until ctx is done.
func (s *FileSource) Next(ctx context.Context) (string, error) {
	for {
		chunk, err := s.r.ReadString('\n')
		s.partial.WriteString(chunk)
		if err == nil {
			line := s.partial.String()
			s.partial.Reset()
			return line, nil
		}
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", err)
		}

		if !s.follow {
			if s.partial.Len() > 0 {
				line := s.partial.String()
				s.partial.Reset()
				return line, nil
			}
			return "", io.EOF
		}

		// A writer may be mid-line; keep the fragment and wait.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

// Close releases the file
func (s *FileSource) Close() error {
	return s.f.Close()
}

// SocketSource reads lines from a live TCP stream. A closed connection is
// the end of the stream.
type SocketSource struct {
	conn net.Conn
	r    *bufio.Reader
	stop func() bool
}

// NormalizeSocketAddr fills in the default host and port of a host:port string
func NormalizeSocketAddr(addr string) string {
	if _, err := strconv.ParseUint(addr, 10, 16); err == nil {
		return net.JoinHostPort(DefaultSocketHost, addr)
	}
	host, port, found := strings.Cut(addr, ":")
	if host == "" {
		host = DefaultSocketHost
	}
	if !found || port == "" {
		port = DefaultSocketPort
	}
	return net.JoinHostPort(host, port)
}

// DialSocketSource connects to addr. Cancelling ctx closes the connection
// and unblocks a pending Next.
func DialSocketSource(ctx context.Context, addr string) (*SocketSource, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", NormalizeSocketAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return &SocketSource{
		conn: conn,
		r:    bufio.NewReader(conn),
		stop: context.AfterFunc(ctx, func() { conn.Close() }),
	}, nil
}

// Next blocks until a line arrives or the peer closes the stream
func (s *SocketSource) Next(ctx context.Context) (string, error) {
	line, err := s.r.ReadString('\n')
	if err == nil {
		return line, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		if line != "" {
			return line, nil
		}
		return "", io.EOF
	}
	return "", fmt.Errorf("failed to read socket: %w", err)
}

// Close closes the connection
func (s *SocketSource) Close() error {
	s.stop()
	return s.conn.Close()
}

// OpenLineSource picks the socket when one is configured, the file otherwise
func OpenLineSource(ctx context.Context, cfg *Config) (LineSource, error) {
	if cfg.SerialSocket != "" {
		return DialSocketSource(ctx, cfg.SerialSocket)
	}
	return OpenFileSource(cfg.Input, cfg.Follow, cfg.FromStart, cfg.PollInterval())
}
