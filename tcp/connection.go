package tcp

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/log"
	"github.com/vuuvv/vdissect/utils"
)

// Connection decodes the client to server byte stream of one TCP connection.
type Connection struct {
	server         *Server
	conn           net.Conn
	key            string
	session        *core.Session
	flow           core.FlowKey
	discriminator  core.Discriminator
	frameNumber    uint32
	lastActiveTime time.Time
	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
}

func NewConnection(server *Server, conn net.Conn) *Connection {
	ctx, cancel := context.WithCancel(server.ctx)
	c := &Connection{
		key:            uuid.NewString(),
		server:         server,
		conn:           conn,
		session:        core.NewSession(server.registry, server.options),
		lastActiveTime: time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}
	c.flow, c.discriminator = flowOf(conn.RemoteAddr(), conn.LocalAddr())
	server.AddConnection(c)
	return c
}

// flowOf keys the conversation on the TCP endpoints; the server port selects
// the dissector.
func flowOf(remote, local net.Addr) (core.FlowKey, core.Discriminator) {
	r, ok1 := remote.(*net.TCPAddr)
	l, ok2 := local.(*net.TCPAddr)
	if !ok1 || !ok2 {
		return core.FlowKey{}, core.Discriminator{}
	}
	return core.TCPFlow(r.IP, l.IP, uint16(r.Port), uint16(l.Port), 0), core.TCPPort(uint16(l.Port))
}

func (this *Connection) Key() string {
	return this.key
}

func (this *Connection) RemoteAddr() string {
	return this.conn.RemoteAddr().String()
}

func (this *Connection) Flow() core.FlowKey {
	return this.flow
}

func (this *Connection) Session() *core.Session {
	return this.session
}

func (this *Connection) Write(data []byte) (int, error) {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.conn.Write(data)
}

func (this *Connection) UpdateActiveTime() {
	this.mu.Lock()
	this.lastActiveTime = time.Now()
	this.mu.Unlock()
}

func (this *Connection) GetLastActiveTime() time.Time {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.lastActiveTime
}

func (this *Connection) nextFrame(data []byte) *core.Frame {
	this.frameNumber++
	return &core.Frame{
		Number:        this.frameNumber,
		Timestamp:     time.Now(),
		Flow:          this.flow,
		Direction:     core.DirectionOut,
		Discriminator: this.discriminator,
		Data:          data,
	}
}

// Scan reads until the peer closes or the connection is cancelled. Every read
// becomes one frame; messages still pending at the end are flushed.
func (this *Connection) Scan(handle Handler) error {
	go this.checkCancel()
	defer this.cancel()
	defer this.session.Close()

	buf := make([]byte, this.server.config.ReadBufferSize)
	for {
		n, err := this.conn.Read(buf)
		if n > 0 {
			this.UpdateActiveTime()
			frame := this.nextFrame(append([]byte(nil), buf[:n]...))
			if herr := handle(&Result{Connection: this.key, Frame: frame, Tree: this.session.Dispatch(frame)}); herr != nil {
				return herr
			}
		}
		if err != nil {
			if err != io.EOF && this.ctx.Err() == nil {
				return errors.WithStack(err)
			}
			break
		}
	}

	for _, tree := range this.session.Flush() {
		if err := handle(&Result{Connection: this.key, Tree: tree}); err != nil {
			return err
		}
	}
	return nil
}

func (this *Connection) checkCancel() {
	<-this.ctx.Done()
	log.Debug("Context cancelled, interrupting read", this.zapFields()...)

	// 将读限期设置为现在, 阻塞中的 Read 立即返回
	err := this.conn.SetReadDeadline(time.Now())
	if err != nil {
		log.Debug("set read deadline", this.zapFields(zap.Error(err))...)
	}
}

func (this *Connection) zapFields(fields ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("addr", this.RemoteAddr()),
		zap.String("key", this.key),
		zap.Stringer("session", this.session.ID),
	}, fields...)
}

func (this *Connection) Close() {
	this.cancel()
	utils.SafeCloseConn(this.conn)
}
