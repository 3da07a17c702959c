package utils

import (
	"net"
	"time"

	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"github.com/vuuvv/vdissect/log"
)

func SafeCloseConn(conn net.Conn) {
	if conn != nil {
		log.Info("Closing connection", zap.String("addr", conn.RemoteAddr().String()))
		if err := conn.Close(); err != nil {
			log.Warn(err, zap.String("addr", conn.RemoteAddr().String()))
		}
	}
}

// OptimalTcpConn 开启保活和 NoDelay, 并设置内核缓冲区大小
func OptimalTcpConn(conn net.Conn, readBufferSize, writeBufferSize int) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return errors.New("not a tcp connection")
	}

	// 防止对端异常断开后的半开连接
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.WithStack(err)
	}
	if err := tcpConn.SetKeepAlivePeriod(3 * time.Minute); err != nil {
		return errors.WithStack(err)
	}
	// 抓取的数据要尽快送到解析器
	if err := tcpConn.SetNoDelay(true); err != nil {
		return errors.WithStack(err)
	}
	if readBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(readBufferSize); err != nil {
			return errors.WithStack(err)
		}
	}
	if writeBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(writeBufferSize); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
