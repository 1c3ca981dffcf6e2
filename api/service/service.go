package service

import (
	"net"
	"net/http"

	"github.com/flowctl/policyd/api"
	"github.com/gin-gonic/gin"
)

type options struct {
	engine     api.Options
	accessLog  bool
	pathPrefix string
	auth       func(username, password string) bool
}

type Option func(*options)

// EngineOption injects the engine components the API serves.
func EngineOption(opts api.Options) Option {
	return func(o *options) {
		o.engine = opts
	}
}

func PathPrefixOption(pathPrefix string) Option {
	return func(o *options) {
		o.pathPrefix = pathPrefix
	}
}

func AccessLogOption(enable bool) Option {
	return func(o *options) {
		o.accessLog = enable
	}
}

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

	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	apiOpts := options.engine
	apiOpts.AccessLog = options.accessLog
	apiOpts.PathPrefix = options.pathPrefix
	apiOpts.Auth = options.auth
	api.Register(r, &apiOpts)

	return &Server{
		s: &http.Server{
			Handler: r,
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
