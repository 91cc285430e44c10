package net

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/conf"
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

// Server accepts client connections and runs one Session per connection.
type Server struct {
	cfg *conf.Cfg
	sm  *catalog.SmManager
	tm  *txn.TransactionManager
	log *wal.LogManager

	lis      net.Listener
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(cfg *conf.Cfg, sm *catalog.SmManager, tm *txn.TransactionManager, log *wal.LogManager) *Server {
	return &Server{cfg: cfg, sm: sm, tm: tm, log: log, done: make(chan struct{})}
}

// Listen binds the configured address. Serve calls it when the caller
// has not.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = lis
	logger.Infof("listening on %s", lis.Addr())
	return nil
}

// Addr is the bound listen address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Serve accepts connections and blocks until Stop is called or the
// listener fails. Temporary accept errors back off and retry instead
// of tearing the server down.
func (s *Server) Serve() error {
	if s.lis == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	var delay time.Duration
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > time.Second {
					delay = time.Second
				}
				logger.Warnf("accept failed, retrying in %v: %v", delay, err)
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0
		logger.Infof("client connected from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewSession(s.sm, s.tm, s.log).Serve(conn)
		}()
	}
}

// Stop closes the listener and waits for active sessions to drain.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.lis != nil {
			s.lis.Close()
		}
	})
	s.wg.Wait()
}
