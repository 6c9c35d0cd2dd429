package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cruciblehq/cruxdeb/internal/build"
	"github.com/cruciblehq/cruxdeb/internal/metrics"
	"github.com/cruciblehq/cruxdeb/internal/paths"
	"github.com/cruciblehq/cruxdeb/internal/runtime"
	"github.com/cruciblehq/cruxdeb/internal/settings"
)

const (

	// Group name used to grant socket access. Members of this group can
	// connect to the daemon socket without owning the process.
	socketGroup = "cruxdeb"

	// File mode applied to the Unix socket. Owner and group get read-write
	// (required for connect); others get no access.
	socketMode = 0660

	// Largest request line accepted.
	maxRequest = 1 << 20
)

// Holds server configuration.
type Config struct {
	SocketPath string             // Override for the Unix socket path. Empty uses the default.
	PIDFile    string             // Override for the PID file. Empty uses the default.
	Settings   *settings.Settings // Operator settings applied to every build.
	Runtime    build.Runtime      // Container runtime. Nil connects to containerd per Settings.
}

// Implemented by runtimes that can remove containers left by a previous run.
type pruner interface {
	Prune(ctx context.Context) (int, error)
}

// Listens on a Unix domain socket and dispatches commands.
type Server struct {
	socketPath string             // Path to the Unix socket file.
	pidFile    string             // Path to the PID file.
	settings   *settings.Settings // Operator settings.
	runtime    build.Runtime      // Starts build containers.
	closer     io.Closer          // Releases the runtime, when the server created it.
	metrics    *metrics.Recorder  // Build and stage metrics.
	metricsSrv *http.Server       // Serves metrics, when an address is configured.
	listener   net.Listener       // Listener for incoming connections.
	startedAt  time.Time          // Timestamp when the server started.
	builds     int                // Builds finished.
	failed     int                // Builds finished without success.
	active     int                // Builds running.
	stopping   bool               // Set once Stop begins; no new builds are admitted.
	ctx        context.Context    // Parent of every build context; cancelled on stop.
	cancel     context.CancelFunc // Cancels ctx.
	inflight   sync.WaitGroup     // Running builds.
	done       chan struct{}      // Closed when the server stops.
	stopOnce   sync.Once          // Guards Stop.
	mu         sync.Mutex         // Protects the counters and stopping.
}

// Creates a new server instance.
//
// The socket is not opened until [Server.Start] is called.
func New(cfg Config) (*Server, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("%w: settings are required", ErrServer)
	}

	s := &Server{
		socketPath: cfg.SocketPath,
		pidFile:    cfg.PIDFile,
		settings:   cfg.Settings,
		runtime:    cfg.Runtime,
		metrics:    metrics.New(),
		done:       make(chan struct{}),
	}
	if s.socketPath == "" {
		s.socketPath = paths.Socket()
	}
	if s.pidFile == "" {
		s.pidFile = paths.PIDFile()
	}

	if s.runtime == nil {
		rt, err := runtime.New(cfg.Settings.ContainerdAddress, cfg.Settings.ContainerdNamespace, cfg.Settings.Snapshotter)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrServer, err)
		}
		s.runtime, s.closer = rt, rt
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Opens the Unix socket and begins accepting connections.
func (s *Server) Start() error {
	listener, err := listen(s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()

	if p, ok := s.runtime.(pruner); ok {
		if _, err := p.Prune(s.ctx); err != nil {
			slog.Warn("failed to prune leftover containers", "error", err)
		}
	}

	if err := writePID(s.pidFile); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}

	if addr := s.settings.MetricsAddress; addr != "" {
		s.serveMetrics(addr)
	}

	slog.Info("server listening on socket", "path", s.socketPath)

	go s.accept()
	return nil
}

// Serves the metrics endpoint in the background.
func (s *Server) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("serving metrics", "address", addr)
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "address", addr, "error", err)
		}
	}()
}

// Creates the Unix socket listener, removes any stale socket from a previous
// run, and applies permissions.
func listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %w", ErrServer, socketPath, err)
	}

	if err := setSocketPermissions(socketPath); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// Restricts socket access to owner and group. Any user in the cruxdeb
// group can also connect.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return fmt.Errorf("%w: failed to chmod socket %s: %w", ErrServer, socketPath, err)
	}

	if g, err := user.LookupGroup(socketGroup); err == nil {
		if gid, err := strconv.Atoi(g.Gid); err == nil {
			if err := os.Chown(socketPath, -1, gid); err != nil {
				slog.Warn("failed to chgrp socket", "group", socketGroup, "error", err)
			}
		}
	} else {
		slog.Debug("socket group not found, socket accessible to owner only", "group", socketGroup)
	}

	return nil
}

// Shuts down the server and cleans up resources.
//
// Running builds are cancelled and waited for, so their containers are
// torn down before Stop returns. Calling Stop again has no effect.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
		}

		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()

		s.cancel()
		s.inflight.Wait()

		if s.metricsSrv != nil {
			s.metricsSrv.Close()
		}
		if s.closer != nil {
			s.closer.Close()
		}

		os.Remove(s.socketPath)
		os.Remove(s.pidFile)
		close(s.done)
		slog.Info("server stopped")
	})
	return nil
}

// Blocks until the server stops.
func (s *Server) Wait() {
	<-s.done
}

// Accepts connections in a loop until the server shuts down.
func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("accept error", "error", err)
			continue
		}

		go s.handle(conn)
	}
}

// Processes a single connection.
//
// Reads one newline-delimited JSON message, dispatches the command, and
// writes the response. The connection is closed after one exchange.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(io.LimitReader(conn, maxRequest), 4096)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		slog.Error("read error", "error", err)
		return
	}

	env, payload, err := Decode(line)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	slog.Info("command received", "command", env.Command)

	ctx, cancel := contextWithDisconnect(s.ctx, reader)
	defer cancel()

	s.dispatch(ctx, conn, env.Command, payload)
}

// Routes a command to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, cmd Command, payload json.RawMessage) {
	switch cmd {
	case CmdBuild:
		s.handleBuild(ctx, conn, payload)
	case CmdStatus:
		s.handleStatus(conn)
	case CmdShutdown:
		s.handleShutdown(conn)
	default:
		s.respond(conn, CmdError, &ErrorResult{
			Message: fmt.Sprintf("unknown command: %s", cmd),
		})
	}
}

// Writes a JSON envelope response to the connection.
func (s *Server) respond(conn net.Conn, cmd Command, payload any) {
	data, err := Encode(cmd, payload)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		slog.Warn("write response failed", "command", cmd, "error", err)
	}
}

// Writes the daemon PID to the PID file so the CLI can detect whether the
// daemon is already running and send it signals.
func writePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), paths.DefaultFileMode)
}

// Returns a derived context that is cancelled when the remote end of the
// connection closes.
//
// Detection works by reading from r in a background goroutine. The read blocks
// until the peer closes the connection, at which point it returns an error and
// the derived context is cancelled. No further data may be expected on r for
// the lifetime of the returned context. The returned [context.CancelFunc] must
// always be called to release resources.
func contextWithDisconnect(parent context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		buf := make([]byte, 1)
		r.Read(buf)
		cancel()
	}()

	return ctx, cancel
}
