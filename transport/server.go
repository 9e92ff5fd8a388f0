package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/logger"
	"github.com/plgd-dev/go-coap/v3/dtls"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
)

// Handler services one request payload. attester.Responder.Handle fits.
type Handler func(ctx context.Context, req []byte) ([]byte, error)

// ServerConfig describes the endpoint to serve.
type ServerConfig struct {
	// PSK switches the endpoint to DTLS. Nil serves plain UDP.
	PSK *PSK
	// Log receives per-request diagnostics. May be nil.
	Log *logger.Logger
}

// Server exposes a handler as a CoAP attestation endpoint.
type Server struct {
	handler Handler
	cfg     ServerConfig

	addr  net.Addr
	serve func() error
	stop  func()
}

// NewServer wires a handler to the attestation resource.
func NewServer(h Handler, cfg ServerConfig) *Server {
	return &Server{handler: h, cfg: cfg}
}

// Listen binds the endpoint. Addr reports the bound address afterwards,
// which is how tests discover a port picked by the kernel.
func (s *Server) Listen(addr string) error {
	if s.serve != nil {
		return errors.New("server already listening")
	}
	r := mux.NewRouter()
	if err := r.Handle(PathAttest, mux.HandlerFunc(s.handleAttest)); err != nil {
		return err
	}

	if s.cfg.PSK != nil {
		dtlsCfg, err := s.cfg.PSK.serverConfig()
		if err != nil {
			return err
		}
		l, err := coapnet.NewDTLSListener("udp", addr, dtlsCfg)
		if err != nil {
			return fmt.Errorf("binding DTLS endpoint on %s: %w", addr, err)
		}
		srv := dtls.NewServer(options.WithMux(r))
		s.addr = l.Addr()
		s.serve = func() error { defer l.Close(); return srv.Serve(l) }
		s.stop = srv.Stop
		return nil
	}

	l, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("binding UDP endpoint on %s: %w", addr, err)
	}
	srv := udp.NewServer(options.WithMux(r))
	s.addr = l.LocalAddr()
	s.serve = func() error { defer l.Close(); return srv.Serve(l) }
	s.stop = srv.Stop
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr { return s.addr }

// Serve answers requests until ctx is done or the listener fails.
// Cancellation is a clean shutdown, not an error.
func (s *Server) Serve(ctx context.Context) error {
	if s.serve == nil {
		return errors.New("server is not listening")
	}
	s.logf("serving attestation resource %s on %s", PathAttest, s.addr)

	errCh := make(chan error, 1)
	go func() { errCh <- s.serve() }()
	select {
	case <-ctx.Done():
		s.stop()
		<-errCh
		s.logf("attestation endpoint stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

// ListenAndServe binds addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) handleAttest(w mux.ResponseWriter, m *mux.Message) {
	body, err := m.ReadBody()
	if err != nil {
		s.warnf("reading request body: %v", err)
		s.respond(w, codes.BadRequest, nil)
		return
	}
	out, err := s.handler(m.Context(), body)
	if err != nil {
		s.warnf("request rejected: %v", err)
		s.respond(w, codes.BadRequest, []byte(err.Error()))
		return
	}
	s.respond(w, codes.Content, out)
}

func (s *Server) respond(w mux.ResponseWriter, code codes.Code, body []byte) {
	format := message.AppCBOR
	if code != codes.Content {
		format = message.TextPlain
	}
	if err := w.SetResponse(code, format, bytes.NewReader(body)); err != nil {
		s.warnf("writing response: %v", err)
	}
}

func (s *Server) logf(format string, v ...any) {
	if s.cfg.Log != nil {
		s.cfg.Log.Infof(format, v...)
	}
}

func (s *Server) warnf(format string, v ...any) {
	if s.cfg.Log != nil {
		s.cfg.Log.Warningf(format, v...)
	}
}
