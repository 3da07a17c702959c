package tcp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/log"
	"github.com/vuuvv/vdissect/utils"
)

const (
	DefaultReadBufferSize = 4096
	DefaultMaxConnections = 1024
)

type ServerConfig struct {
	Address         string `yaml:"address"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	MaxConnections  int    `yaml:"max_connections"`
	IdleTimeout     int    `yaml:"idle_timeout"` // 秒, 超过该时间没有数据的连接会被关闭, 0 表示不检查
}

// Result is one decoded frame of a live connection. Flushed trees at the end
// of a connection come with a nil Frame.
type Result struct {
	Connection string
	Frame      *core.Frame
	Tree       *core.Field
}

type Handler func(result *Result) error

// Server accepts TCP connections and decodes every chunk read from them. Each
// connection gets its own Session over the shared, frozen registry.
type Server struct {
	config           *ServerConfig
	registry         *core.Registry
	options          core.SessionOptions
	listener         net.Listener
	connections      sync.Map
	wg               sync.WaitGroup
	ctx              context.Context
	cancel           context.CancelFunc
	connectionCounts int32
	handler          Handler
}

func NewServer(config *ServerConfig, registry *core.Registry, options core.SessionOptions) *Server {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultMaxConnections
	}
	registry.Freeze()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		registry: registry,
		options:  options,
		ctx:      ctx,
		cancel:   cancel,
		handler:  logResult,
	}
}

func logResult(result *Result) error {
	log.Debug("decoded", zap.String("conn", result.Connection), zap.String("tree", result.Tree.Dump()))
	return nil
}

// MessageHandle replaces the handler called with every decoded frame. It must
// be set before Start.
func (s *Server) MessageHandle(fn Handler) {
	s.handler = fn
}

func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return errors.Errorf("failed to start listener: %v", err)
	}
	s.listener = listener
	log.Info("TCP server listen", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr is the bound address once Listen succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until Stop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	s.wg.Add(1)
	go s.connectionCleaner()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				log.Warn(errors.Wrap(err, "Accept error"))
				continue
			}
		}

		if !s.acceptConnection() {
			log.Warn("Max connections reached, rejecting", zap.String("addr", conn.RemoteAddr().String()))
			utils.SafeCloseConn(conn)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) acceptConnection() bool {
	current := atomic.LoadInt32(&s.connectionCounts)
	if current >= int32(s.config.MaxConnections) {
		return false
	}
	return atomic.CompareAndSwapInt32(&s.connectionCounts, current, current+1)
}

func (s *Server) releaseConnection() {
	atomic.AddInt32(&s.connectionCounts, -1)
}

func (s *Server) ConnectionCount() int {
	return int(atomic.LoadInt32(&s.connectionCounts))
}

func (s *Server) handleConnection(conn net.Conn) {
	defer utils.NormalRecover()
	defer utils.SafeCloseConn(conn)
	defer s.wg.Done()
	defer s.releaseConnection()

	err := utils.OptimalTcpConn(conn, s.config.ReadBufferSize, s.config.WriteBufferSize)
	if err != nil {
		log.Warn(errors.Wrap(err, "OptimalTcpConn fail"))
		return
	}

	c := NewConnection(s, conn)
	defer s.RemoveConnection(c)
	if err = c.Scan(s.handler); err != nil {
		log.Warn(errors.Wrap(err, "Scan fail"), c.zapFields()...)
	}
}

func (s *Server) AddConnection(conn *Connection) {
	s.connections.Store(conn.key, conn)
}

func (s *Server) RemoveConnection(conn *Connection) {
	s.connections.Delete(conn.key)
}

func (s *Server) GetConnection(key string) *Connection {
	conn, ok := s.connections.Load(key)
	if !ok {
		return nil
	}
	return conn.(*Connection)
}

// connectionCleaner 定时统计连接数, 并关闭空闲超时的连接
func (s *Server) connectionCleaner() {
	defer utils.NormalRecover()
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	idle := time.Duration(s.config.IdleTimeout) * time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			count := 0
			s.connections.Range(func(key, value any) bool {
				conn, ok := value.(*Connection)
				if !ok {
					return true
				}
				if idle > 0 && time.Since(conn.GetLastActiveTime()) > idle {
					log.Warn("Idle timeout, closing connection", conn.zapFields()...)
					conn.Close()
					return true
				}
				count++
				return true
			})
			log.Info("Active connections", zap.Int("count", count))
		}
	}
}

func (s *Server) Stop() error {
	log.Info("Stopping TCP server")
	s.cancel()

	if s.listener != nil {
		err := s.listener.Close()
		if err != nil {
			log.Warn(errors.Wrap(err, "Error closing listener"))
		}
	}

	s.connections.Range(func(key, value any) bool {
		if conn, ok := value.(*Connection); ok {
			conn.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Server shutdown complete")
		return nil
	case <-time.After(30 * time.Second):
		return errors.Errorf("shutdown timeout")
	}
}
