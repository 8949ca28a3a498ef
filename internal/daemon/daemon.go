package daemon

// CRITICAL NFS DEADLOCK WARNING:
// When the daemon processes NFS requests, any filesystem access (os.Stat, os.ReadFile,
// os.Open, etc.) to a path under its own mount point will cause a deadlock: the
// daemon would block on a kernel NFS request that only the daemon itself can answer.
// All daemon code must stay on the engine/catalog side and never touch the mount.

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	logrus "github.com/sirupsen/logrus"

	"gramfs/internal/engine"
	"gramfs/internal/metrics"
	"gramfs/internal/storage"
	"gramfs/internal/util"
	gramfs "gramfs/internal/vfs"
)

func init() {
	// Default logging to discard until explicitly enabled via --logging flag
	logrus.SetOutput(io.Discard)
}

// Daemon owns the mounted filesystem: the catalog, the chunk engine with
// its background flusher, the NFS/SMB server, and the mount itself.
type Daemon struct {
	ipcServer *Server
	logFile   *os.File
	stopCh    chan struct{}
	wg        sync.WaitGroup
	lock      *flock.Flock

	// Logging configuration
	// LogLevel sets the logging level: trace, debug, info, warn, off.
	// Empty falls back to the settings file.
	LogLevel string

	// SkipCleanup skips startup cleanup tasks (stale mounts, zombie daemons).
	// Used by integration tests to avoid interfering with parallel test daemons.
	SkipCleanup bool

	// Mount state. One daemon serves one catalog at one mount point.
	settings   *GlobalSettings
	catalog    *storage.Catalog
	eng        *engine.Engine
	netServer  NetFSServer
	serverIP   string
	serverPort int
	mountPoint string

	metricsServer *http.Server
}

// New creates a new daemon instance
func New() *Daemon {
	return &Daemon{
		stopCh: make(chan struct{}),
	}
}

// Run starts the daemon and blocks until stopped
func (d *Daemon) Run() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	// Load global settings and set busy_timeout values
	settings, err := LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	d.settings = settings
	storage.SetConfigBusyTimeouts(settings.DaemonBusyTimeout, settings.CLIBusyTimeout)

	if !d.SkipCleanup {
		// Clean up stale mounts from previous crashed sessions
		if result, err := CleanupStaleMounts(); err == nil {
			if len(result.StaleMounts) > 0 || result.CleanedPidFile || result.CleanedSocket {
				log.Printf("Startup cleanup: %s", FormatCleanupResult(result))
			}
		}

		// Clean up our own mount point (in case it was left behind from a crash)
		if err := CleanupOwnMount(); err != nil {
			log.Printf("Warning: failed to clean up own mount: %v", err)
		}

		// Kill zombie daemon processes (orphaned test daemons)
		if killed := KillZombieDaemons(); killed > 0 {
			log.Printf("Killed %d zombie daemon processes", killed)
		}
	}

	// Acquire exclusive lock
	d.lock = flock.New(LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon instance is already running")
	}
	defer d.lock.Unlock()

	// Setup logging based on log level (case insensitive); an explicit
	// LogLevel from the CLI wins over the settings file
	logLevel := strings.ToLower(d.LogLevel)
	if logLevel == "" {
		logLevel = strings.ToLower(settings.LogLevel)
	}
	if logLevel != "" && logLevel != "none" && logLevel != "off" {
		// Truncate log file if it exceeds 50MB
		if err := d.truncateLogFile(50 * 1024 * 1024); err != nil {
			// Non-fatal, just log to stderr
			fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
		}

		logFile, err := os.OpenFile(LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		d.logFile = logFile
		log.SetOutput(logFile)
		log.SetFlags(log.LstdFlags | log.Lshortfile)

		// Also redirect logrus to the log file
		logrus.SetOutput(logFile)

		// Set logrus level based on LogLevel (case insensitive)
		switch logLevel {
		case "trace":
			logrus.SetLevel(logrus.TraceLevel)
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info":
			logrus.SetLevel(logrus.InfoLevel)
		case "warn":
			logrus.SetLevel(logrus.WarnLevel)
		default:
			logrus.SetLevel(logrus.DebugLevel)
		}
	} else {
		// Disable logging by sending to /dev/null
		log.SetOutput(io.Discard)
		logrus.SetOutput(io.Discard)
	}

	// Write PID file
	if err := d.writePidFile(); err != nil {
		return err
	}
	defer d.removePidFile()

	log.Printf("Daemon started (PID %d)", os.Getpid())
	logServerType()

	// Prometheus endpoint, if configured
	if settings.MetricsAddr != "" {
		d.startMetrics(settings.MetricsAddr)
	}

	// Mount BEFORE the IPC server so status never sees a half-started daemon.
	// Unlike a local filesystem there is nothing else to serve: if the blob
	// backend or the mount fails, the daemon is useless and exits.
	if err := d.startMount(); err != nil {
		d.stopMetrics()
		return fmt.Errorf("failed to mount: %w", err)
	}
	log.Printf("Mounted %s at %s (%s backend)", CatalogPath(), d.mountPoint, d.eng.Store().Type())

	// Start IPC server (after the mount is ready)
	log.Printf("Starting IPC server at %s", SocketPath())
	d.ipcServer = NewServer(d.handleRequest)
	if err := d.ipcServer.Start(); err != nil {
		log.Printf("IPC server failed to start: %v", err)
		d.stopMount()
		d.stopMetrics()
		return err
	}
	log.Printf("IPC server started successfully")
	defer d.ipcServer.Stop()

	// Watch parent process (test runner) and self-terminate if it dies.
	// When Go's test timeout fires, os.Exit(2) bypasses all defers, leaving
	// daemon processes orphaned. This goroutine detects parent death and
	// triggers graceful shutdown (unmount NFS, cleanup, exit).
	if ppidStr := os.Getenv("GRAMFS_PARENT_PID"); ppidStr != "" {
		if ppid, err := strconv.Atoi(ppidStr); err == nil && ppid > 0 {
			go func() {
				ticker := time.NewTicker(500 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-d.stopCh:
						return
					case <-ticker.C:
						// syscall.Kill(pid, 0) checks if process exists without signaling.
						// Returns error when process no longer exists.
						if err := syscall.Kill(ppid, 0); err != nil {
							log.Printf("Parent process (PID %d) died, shutting down to prevent orphan daemon", ppid)
							select {
							case <-d.stopCh:
							default:
								close(d.stopCh)
							}
							return
						}
					}
				}
			}()
			log.Printf("Watching parent process PID %s for orphan prevention", ppidStr)
		}
	}

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-d.stopCh:
		log.Printf("Stop requested, shutting down...")
	}

	// Unmount, drain staged writes, and tear the stack down
	d.stopMount()
	d.stopMetrics()

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("All server goroutines finished")
	case <-time.After(500 * time.Millisecond):
		log.Printf("Timeout waiting for server goroutines")
	}

	log.Printf("Daemon stopped")
	return nil
}

// handleRequest processes an IPC request
func (d *Daemon) handleRequest(req *Request) *Response {
	switch req.Type {
	case RequestStatus:
		return d.handleStatus()
	case RequestFlush:
		return d.handleFlush(req)
	case RequestStop:
		return d.handleStop()
	default:
		return &Response{Success: false, Error: "unknown request type"}
	}
}

func (d *Daemon) handleStatus() *Response {
	resp := &Response{
		Success: true,
		PID:     os.Getpid(),
	}
	if d.eng != nil {
		regions, bytes := d.eng.StagedStats()
		resp.Mounted = true
		resp.MountPoint = d.mountPoint
		resp.Backend = d.eng.Store().Type()
		resp.ServerAddr = fmt.Sprintf("%s:%d", d.serverIP, d.serverPort)
		resp.CatalogPath = CatalogPath()
		resp.ChunkSize = d.eng.ChunkSize()
		resp.StagedRegions = regions
		resp.StagedBytes = bytes
	}
	return resp
}

// flushTimeout bounds IPC-triggered flushes. Uploads go to a remote
// service; a wedged backend should fail the request, not hang the socket.
const flushTimeout = 5 * time.Minute

func (d *Daemon) handleFlush(req *Request) *Response {
	if d.eng == nil {
		return &Response{Success: false, Error: "not mounted"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	var err error
	if req.Path != "" {
		log.Printf("handleFlush: draining %s", req.Path)
		err = d.eng.FlushPath(ctx, req.Path)
	} else {
		log.Printf("handleFlush: draining all staging regions")
		err = d.eng.FlushAll(ctx)
	}
	if err != nil {
		log.Printf("handleFlush: %v", err)
		return &Response{Success: false, Error: fmt.Sprintf("flush failed: %v", err)}
	}

	regions, bytes := d.eng.StagedStats()
	return &Response{
		Success:       true,
		Message:       "Flushed",
		StagedRegions: regions,
		StagedBytes:   bytes,
	}
}

func (d *Daemon) handleStop() *Response {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	return &Response{Success: true, Message: "Daemon stopping"}
}

func (d *Daemon) writePidFile() error {
	data := []byte(strconv.Itoa(os.Getpid()))
	return os.WriteFile(PidPath(), data, 0600)
}

func (d *Daemon) removePidFile() {
	os.Remove(PidPath())
}

// GetPID reads the daemon PID from file
func GetPID() (int, error) {
	data, err := os.ReadFile(PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForPort waits until a port is accepting connections on the given IP
func waitForPort(ip string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	if util.WaitWithDeadline(time.Now().Add(timeout), 50*time.Millisecond, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		return false
	}) {
		return nil
	}
	return fmt.Errorf("timeout waiting for port %d", port)
}

// startMount opens the catalog, builds the engine over the configured blob
// backend, starts the network filesystem server, and mounts it.
func (d *Daemon) startMount() error {
	t0 := time.Now()
	settings := d.settings

	// Open or create the catalog with daemon context
	var cat *storage.Catalog
	var err error
	catalogPath := CatalogPath()
	if _, statErr := os.Stat(catalogPath); os.IsNotExist(statErr) {
		cat, err = storage.CreateWithContext(catalogPath, settings.ChunkSize, storage.DBContextDaemon)
	} else {
		cat, err = storage.OpenWithContext(catalogPath, storage.DBContextDaemon)
	}
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	log.Printf("startMount: openCatalog took %v (chunk size %d)", time.Since(t0), cat.ChunkSize())

	// Blob store from settings
	store, err := NewBlobStore(context.Background(), settings)
	if err != nil {
		cat.Close()
		return err
	}

	// Engine with the background flusher. Build everything into local
	// variables — only assign to the daemon after all error-prone
	// operations succeed, so it never ends up with a half-built stack.
	eng, err := engine.New(cat, store, engine.Options{
		StagingCapacity: settings.StagingCapacity,
		CacheBudget:     settings.CacheBudget,
		FlushInterval:   time.Duration(settings.FlushInterval) * time.Second,
		IdleThreshold:   time.Duration(settings.IdleThreshold) * time.Second,
	})
	if err != nil {
		cat.Close()
		return fmt.Errorf("failed to build engine: %w", err)
	}
	eng.Start()

	fs := gramfs.NewGramFS(eng)

	// Pick a port
	t1 := time.Now()
	port := settings.NFSPort
	if port == 0 {
		port, err = findAvailablePort()
		if err != nil {
			eng.Close(context.Background())
			cat.Close()
			return fmt.Errorf("failed to find available port: %w", err)
		}
	}
	log.Printf("startMount: findPort took %v (port=%d)", time.Since(t1), port)

	// Create network filesystem server
	t2 := time.Now()
	srv, err := createServerForGramFS(fs, "gramfs")
	if err != nil {
		eng.Close(context.Background())
		cat.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	log.Printf("startMount: createServer took %v", time.Since(t2))

	ip := "127.0.0.1"

	// Start server in background
	addr := fmt.Sprintf("%s:%d", ip, port)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := srv.Serve(addr); err != nil {
			log.Printf("%s server error: %v", NetFSType(), err)
		}
	}()

	// Wait for server to be ready
	t3 := time.Now()
	if err := waitForPort(ip, port, 3*time.Second); err != nil {
		srv.Shutdown()
		eng.Close(context.Background())
		cat.Close()
		return fmt.Errorf("server failed to start: %w", err)
	}
	log.Printf("startMount: waitForPort took %v", time.Since(t3))

	// Mount with one fast retry — the mount command can transiently fail
	// right after the server starts accepting connections.
	mountPath := settings.EffectiveMountPoint()
	t4 := time.Now()
	var mountErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			log.Printf("startMount: mount retry after %v", mountErr)
			time.Sleep(200 * time.Millisecond)
		}
		mountErr = mountNetFS(ip, port, "gramfs", mountPath)
		if mountErr == nil {
			break
		}
	}
	if mountErr != nil {
		srv.Shutdown()
		eng.Close(context.Background())
		cat.Close()
		return fmt.Errorf("failed to mount filesystem: %w", mountErr)
	}
	log.Printf("startMount: mount took %v (total=%v)", time.Since(t4), time.Since(t0))

	// All operations succeeded — commit state to daemon
	d.catalog = cat
	d.eng = eng
	d.netServer = srv
	d.serverIP = ip
	d.serverPort = port
	d.mountPoint = mountPath

	return nil
}

// shutdownFlushTimeout bounds the final drain of staged writes. Staged
// bytes live only in memory, so giving up early loses data; a dead
// backend should not pin the process forever either.
const shutdownFlushTimeout = 2 * time.Minute

// stopMount unmounts, drains staged writes to the blob store, and closes
// the engine and catalog.
func (d *Daemon) stopMount() {
	if d.netServer != nil {
		// Unmount FIRST while the NFS server is still alive — this is fastest
		// because the kernel NFS client can communicate with the server during
		// unmount. If we shut down the server first, the kernel blocks for
		// seconds trying to reach the dead server.
		if err := Unmount(d.mountPoint); err != nil {
			log.Printf("stopMount: graceful unmount failed: %v", err)
		}

		// Now shut down the server (listener close + context cancel)
		d.netServer.Shutdown()
		d.netServer = nil
	}

	if d.eng != nil {
		// Close stops the flusher and drains every staging region. Anything
		// that cannot be uploaded within the deadline is gone: staged bytes
		// have no home but memory.
		ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		if err := d.eng.Close(ctx); err != nil {
			log.Printf("stopMount: final flush failed, staged writes lost: %v", err)
		}
		cancel()
		d.eng = nil
	}

	if d.catalog != nil {
		d.catalog.Close()
		d.catalog = nil
	}

	// Clean up the mount directory if it exists and is empty
	if d.mountPoint != "" {
		if info, err := os.Stat(d.mountPoint); err == nil && info.IsDir() {
			// Only remove if empty (to avoid accidental data loss)
			entries, err := os.ReadDir(d.mountPoint)
			if err == nil && len(entries) == 0 {
				os.Remove(d.mountPoint)
				log.Printf("stopMount: removed empty mount directory %s", d.mountPoint)
			}
		}
	}
}

// startMetrics serves the Prometheus registry over HTTP
func (d *Daemon) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	d.metricsServer = srv

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		log.Printf("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	d.metricsServer.Shutdown(ctx)
	cancel()
	d.metricsServer = nil
}

// truncateLogFile truncates the log file if it exceeds maxSize bytes.
// It keeps the last half of the file content to preserve recent logs.
func (d *Daemon) truncateLogFile(maxSize int64) error {
	logPath := LogPath()

	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil // File doesn't exist, nothing to truncate
	}
	if err != nil {
		return err
	}

	if info.Size() <= maxSize {
		return nil // File is within size limit
	}

	// Read the file
	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}

	// Keep the last half of the content (approximately)
	keepSize := len(data) / 2
	startIdx := len(data) - keepSize

	// Find the next newline to avoid cutting a line in the middle
	for i := startIdx; i < len(data); i++ {
		if data[i] == '\n' {
			startIdx = i + 1
			break
		}
	}

	// Write truncated content back
	truncatedData := data[startIdx:]
	header := []byte(fmt.Sprintf("--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(truncatedData)))

	return os.WriteFile(logPath, append(header, truncatedData...), 0600)
}
