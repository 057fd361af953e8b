package cache

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

type replyType string

const (
	replySimpleString replyType = "+"
	replyBulkString   replyType = "$"
	replyInteger      replyType = ":"
	replyNil          replyType = "_"
)

type respReply struct {
	typ  replyType
	data []byte
}

// ServerError is an error reply ("-ERR ...") returned by the server.
type ServerError string

func (e ServerError) Error() string { return "valkey: " + string(e) }

type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newRespConn(conn net.Conn, readTimeout, writeTimeout time.Duration) *respConn {
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (c *respConn) close() { _ = c.conn.Close() }

// write encodes parts as a RESP array of bulk strings.
func (c *respConn) write(parts ...[]byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.writer, "*%d\r\n", len(parts))
	for _, part := range parts {
		fmt.Fprintf(c.writer, "$%d\r\n", len(part))
		c.writer.Write(part)
		c.writer.WriteString("\r\n")
	}
	return c.writer.Flush()
}

func (c *respConn) readReply() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := c.readLine()
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+':
		return respReply{typ: replySimpleString, data: line}, nil
	case '-':
		return respReply{}, ServerError(line)
	case ':':
		return respReply{typ: replyInteger, data: line}, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("bulk length %q: %w", line, err)
		}
		if size < 0 {
			return respReply{typ: replyNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, fmt.Errorf("invalid bulk string termination")
		}
		return respReply{typ: replyBulkString, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
