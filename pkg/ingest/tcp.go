package ingest

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/nova-ts/tsdb/pkg/cclog"
)

// TCPListener is the line-oriented `put` listener of §6: a bare TCP
// socket, one or more `put ...\n` lines per connection, no
// response written back (fire-and-forget, matching OpenTSDB's own
// telnet put protocol). Grounded on the teacher's server.go
// Listen/Serve/Shutdown split (cmd/cc-backend/server.go),
// adapted from net/http.Server to a raw net.Listener since the wire
// format here is newline-delimited text, not HTTP.
type TCPListener struct {
	addr     string
	ingress  *Ingress
	listener net.Listener

	mu     sync.Mutex
	closed bool
}

func NewTCPListener(addr string, ingress *Ingress) *TCPListener {
	return &TCPListener{addr: addr, ingress: ingress}
}

// Serve binds addr and accepts connections until ctx is cancelled or
// Close is called. It blocks until all accepted connections have been
// handled.
func (l *TCPListener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				break
			}
			cclog.Errorf("ingest: tcp accept: %v", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handleConn(conn)
		}()
	}
	wg.Wait()
	return nil
}

func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.listener == nil {
		l.closed = true
		return nil
	}
	l.closed = true
	return l.listener.Close()
}

func (l *TCPListener) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		metric, ts, v, tags, err := ParseLine(line)
		if err != nil {
			cclog.Warnf("ingest: tcp: %v", err)
			continue
		}
		res := l.ingress.Put(metric, tags, ts, v)
		if res.Code != Ok {
			cclog.Warnf("ingest: tcp put %q rejected: %s", line, res.Reason)
		}
	}
}
