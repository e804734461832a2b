package ipc

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/store"
)

const (
	// outboundBuffer bounds one connection's send queue. A subscriber
	// that falls this far behind is told so once and disconnected.
	outboundBuffer = 128

	socketMode = 0o600

	maxLineBytes = 1 << 20
)

// writeTimeout bounds one response write. A client that stops reading
// stalls the kernel buffer eventually; the deadline turns that into a
// disconnect instead of a stuck writer. Variable so tests can shorten
// it.
var writeTimeout = 5 * time.Second

// Server listens on a Unix socket and serves line-JSON requests plus
// sample subscriptions. It only reads the store; the recorder feeds it
// samples to forward.
type Server struct {
	socketPath string
	store      *store.Store
	status     func() Status
	onShutdown func()
	logger     logger.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	conns  map[uint64]*client
	nextID uint64
	closed bool
}

type client struct {
	id         uint64
	conn       net.Conn
	out        chan Response
	subscribed bool
	dropOnce   sync.Once
}

// NewServer wires the server. status supplies the daemon-level fields
// of the Status response; onShutdown is invoked when a client asks the
// daemon to stop.
func NewServer(socketPath string, st *store.Store, status func() Status, onShutdown func(), log logger.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		store:      st,
		status:     status,
		onShutdown: onShutdown,
		logger:     log,
		conns:      make(map[uint64]*client),
	}
}

// Start binds the socket and begins accepting connections.
func (s *Server) Start() error {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	// A stale socket from a crashed daemon would block the bind. The
	// PID file is checked before we get here.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		if os.IsPermission(err) {
			return errFactory.Wrap(errors.ErrPermissionDenied, err)
		}
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	if err := os.Chmod(s.socketPath, socketMode); err != nil {
		listener.Close()
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	s.listener = listener
	s.logger.Info().Str("socket", s.socketPath).Msg("IPC server listening")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed during shutdown.
			return
		}

		c := s.addClient(conn)
		if c == nil {
			conn.Close()
			return
		}

		s.wg.Add(2)
		go s.writerTask(c)
		go s.readerTask(c)
	}
}

func (s *Server) addClient(conn net.Conn) *client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.nextID++
	c := &client{
		id:   s.nextID,
		conn: conn,
		out:  make(chan Response, outboundBuffer),
	}
	s.conns[c.id] = c

	s.logger.Debug().Uint64("client_id", c.id).Msg("Client connected")

	return c
}

// drop removes a client from the set and closes its outbound queue.
// The writer closes the socket once the queue is drained. Safe to call
// from any goroutine, once wins.
func (s *Server) drop(c *client) {
	c.dropOnce.Do(func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()

		close(c.out)

		s.logger.Debug().Uint64("client_id", c.id).Msg("Client disconnected")
	})
}

// writerTask owns the send side of one connection; nothing else writes
// to the socket. It closes the socket after draining the queue, which
// also unblocks the reader.
func (s *Server) writerTask(c *client) {
	defer s.wg.Done()
	defer c.conn.Close()

	for resp := range c.out {
		line, err := EncodeResponse(resp)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to serialize response")
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.conn.Write(line); err != nil {
			s.logger.Debug().Uint64("client_id", c.id).Err(err).Msg("Write failed")
			go s.drop(c)
			// Keep draining so enqueuers are never stuck.
			for range c.out {
			}
			return
		}
	}
}

func (s *Server) readerTask(c *client) {
	defer s.wg.Done()
	defer s.drop(c)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := DecodeRequest(line)
		if err != nil {
			s.logger.Warn().Uint64("client_id", c.id).Err(err).Msg("Invalid request")
			s.enqueue(c, ErrorResponse(errors.ErrBadRequest, err.Error()))
			continue
		}

		if req.V < MinSupportedVersion {
			s.enqueue(c, ErrorResponse(errors.ErrProtocolVersion, ""))
			return
		}

		if !s.handle(c, req) {
			return
		}
	}
}

// handle serves one request; returns false when the connection should
// close.
func (s *Server) handle(c *client, req Request) bool {
	switch req.Kind {
	case KindGetStatus:
		status := s.status()
		status.SubscriberCount = s.SubscriberCount()
		s.enqueue(c, Response{Kind: KindStatus, Status: &status})

	case KindGetRecentSamples:
		// Holding the lock across read and enqueue makes the response a
		// strict prefix of what a live subscription continues with.
		s.mu.Lock()
		samples, err := s.store.RecentSamples(req.Limit)
		if err != nil {
			s.mu.Unlock()
			s.enqueue(c, errorFrom(err))
			break
		}
		s.enqueueLocked(c, Response{Kind: KindSamples, Samples: samples})
		s.mu.Unlock()

	case KindGetHourlyStats:
		stats, err := s.store.HourlyStats(req.From, req.To)
		if err != nil {
			s.enqueue(c, errorFrom(err))
			break
		}
		s.enqueue(c, Response{Kind: KindHourlyStats, Hourly: stats})

	case KindGetDailyStats:
		stats, err := s.store.DailyStats(dayOfMS(req.From), dayOfMS(req.To))
		if err != nil {
			s.enqueue(c, errorFrom(err))
			break
		}
		s.enqueue(c, Response{Kind: KindDailyStats, Daily: stats})

	case KindGetDailyCycles:
		cycles, err := s.store.DailyCycles(dayOfMS(req.From), dayOfMS(req.To))
		if err != nil {
			s.enqueue(c, errorFrom(err))
			break
		}
		s.enqueue(c, Response{Kind: KindDailyCycles, Cycles: cycles})

	case KindGetSessions:
		var kind *store.SessionKind
		if req.SessionKind != nil {
			k := store.SessionKind(*req.SessionKind)
			kind = &k
		}
		sessions, err := s.store.Sessions(req.From, req.To, kind)
		if err != nil {
			s.enqueue(c, errorFrom(err))
			break
		}
		s.enqueue(c, Response{Kind: KindSessions, Sessions: sessions})

	case KindSubscribe:
		if req.Stream != "" && req.Stream != StreamSamples {
			s.enqueue(c, ErrorResponse(errors.ErrBadRequest, "unknown stream: "+req.Stream))
			break
		}
		s.mu.Lock()
		c.subscribed = true
		s.enqueueLocked(c, Response{Kind: KindOk})
		s.mu.Unlock()

	case KindKillProcess:
		if err := killProcess(req.PID); err != nil {
			s.enqueue(c, errorFrom(err))
			break
		}
		s.enqueue(c, Response{Kind: KindOk})

	case KindShutdown:
		s.logger.Info().Uint64("client_id", c.id).Msg("Shutdown requested by client")
		s.enqueue(c, Response{Kind: KindOk})
		if s.onShutdown != nil {
			go s.onShutdown()
		}

	default:
		s.enqueue(c, ErrorResponse(errors.ErrBadRequest, "unknown kind: "+req.Kind))
	}

	return true
}

// Broadcast forwards a freshly persisted sample to every subscriber.
// Never blocks: a subscriber whose buffer is full gets one lagging
// error and is disconnected.
func (s *Server) Broadcast(smp sample.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	event := Response{Kind: KindSampleEvent, Sample: &smp}
	for _, c := range s.conns {
		if !c.subscribed {
			continue
		}
		select {
		case c.out <- event:
		default:
			s.lagLocked(c)
		}
	}
}

// lagLocked disconnects a subscriber that cannot keep up. Whatever is
// still queued is discarded so the one lagging error always fits.
func (s *Server) lagLocked(c *client) {
	s.logger.Warn().Uint64("client_id", c.id).Msg("Subscriber lagging, disconnecting")
	c.subscribed = false

	for {
		select {
		case <-c.out:
			continue
		default:
		}
		break
	}

	select {
	case c.out <- ErrorResponse(errors.ErrLagging, ""):
	default:
	}
	go s.drop(c)
}

// enqueue queues a reply for one connection, preserving request order.
func (s *Server) enqueue(c *client, resp Response) {
	s.mu.Lock()
	s.enqueueLocked(c, resp)
	s.mu.Unlock()
}

func (s *Server) enqueueLocked(c *client, resp Response) {
	if _, live := s.conns[c.id]; !live {
		return
	}
	select {
	case c.out <- resp:
	default:
		s.lagLocked(c)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, c := range s.conns {
		if c.subscribed {
			count++
		}
	}
	return count
}

// Close stops accepting, sends a terminal event to every connection,
// drains the writers and removes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*client, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	for _, c := range conns {
		s.enqueue(c, Response{Kind: KindGoodbye})
		// Readers unblock when the connection dies under them.
		c.conn.SetReadDeadline(time.Now())
		s.drop(c)
	}

	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	s.logger.Info().Msg("IPC server closed")

	return nil
}

func errorFrom(err error) Response {
	code := errors.CodeOf(err)
	return ErrorResponse(code, err.Error())
}

func killProcess(pid int) error {
	errFactory := errors.New()
	if pid <= 1 {
		return errFactory.WithData(errors.ErrInvalidArgument, pid)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	return nil
}

func dayOfMS(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02")
}
