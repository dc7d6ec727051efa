package api

// Option configures a Server.
type Option func(*Server)

// WithMaxLimit caps the limit query parameter accepted by list endpoints.
func WithMaxLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithVersion sets the version string reported by health endpoints.
func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// WithPinger adds a persistence check to the deep health endpoint.
func WithPinger(p Pinger) Option {
	return func(s *Server) {
		s.pinger = p
	}
}
