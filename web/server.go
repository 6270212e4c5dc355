// Package web exposes a dispatcher over HTTP for callers that prefer a
// network transport to stdio: POST /rpc carries one request per body, and
// GET /rpc upgrades to a WebSocket carrying one request per message with
// FIFO responses, mirroring the stdio line protocol.
package web

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/benchd/benchd/dispatch"
)

// maxBodyBytes bounds one request body, matching the stdio line limit.
const maxBodyBytes = 1024 * 1024

// Server serves a dispatcher over HTTP and WebSocket.
type Server struct {
	log        *zap.SugaredLogger
	dispatcher *dispatch.Dispatcher
	listenAddr string

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

type ServerOption func(s *Server)

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.log = l.Named("web").Sugar()
	}
}

func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func NewServer(d *dispatch.Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		log:        zap.NewNop().Sugar(),
		dispatcher: d,
		listenAddr: "127.0.0.1:8080",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run listens and serves until Stop is called.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	router := httprouter.New()
	router.POST("/rpc", s.rpc)
	router.GET("/rpc", s.rpcWS)
	router.GET("/healthz", s.healthz)

	server := http.Server{Handler: router}
	s.mu.Lock()
	s.listener = listener
	s.httpServer = &server
	s.mu.Unlock()

	s.log.Infof("serving methods %v on %s", s.dispatcher.Methods(), listener.Addr())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the bound listen address, or "" before Run has bound one.
// Useful with a ":0" listen address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

// rpc handles one request per POST body. Protocol failures come back as
// error responses with HTTP 200: the HTTP layer is pure transport.
func (s *Server) rpc(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := s.dispatcher.Handle(r.Context(), body)
	w.Header().Add("Content-Type", "application/json")
	w.Write(resp)
}

// rpcWS serves the dispatch protocol over a WebSocket. Messages on one
// connection are processed strictly in order, like stdio lines.
func (s *Server) rpcWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer wsConn.Close(websocket.StatusInternalError, "server closing")

	ctx := r.Context()
	for {
		_, msg, err := wsConn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			wsConn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if err != nil {
			s.log.Debugf("WebSocket read error: %s", err)
			return
		}

		resp := s.dispatcher.Handle(ctx, msg)
		if err := wsConn.Write(ctx, websocket.MessageText, resp); err != nil {
			s.log.Debugf("WebSocket write error: %s", err)
			return
		}
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Add("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}
