package service

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultPath = "/metrics"
)

type options struct {
	path string
	auth func(username, password string) bool
}

type Option func(*options)

func PathOption(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// AuthOption guards the scrape endpoint with basic auth.
func AuthOption(auth func(username, password string) bool) Option {
	return func(o *options) {
		o.auth = auth
	}
}

type Server struct {
	s      *http.Server
	ln     net.Listener
	cclose chan struct{}
}

// NewService exposes the prometheus scrape endpoint on addr.
func NewService(network, addr string, opts ...Option) (*Server, error) {
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}

	var options options
	for _, opt := range opts {
		opt(&options)
	}
	if options.path == "" {
		options.path = DefaultPath
	}

	mux := http.NewServeMux()
	mux.Handle(options.path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if options.auth != nil {
			u, p, _ := r.BasicAuth()
			if !options.auth(u, p) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		promhttp.Handler().ServeHTTP(w, r)
	}))
	return &Server{
		s: &http.Server{
			Handler: mux,
		},
		ln:     ln,
		cclose: make(chan struct{}),
	}, nil
}

func (s *Server) Serve() error {
	return s.s.Serve(s.ln)
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Close() error {
	return s.s.Close()
}

func (s *Server) IsClosed() bool {
	select {
	case <-s.cclose:
		return true
	default:
		return false
	}
}
