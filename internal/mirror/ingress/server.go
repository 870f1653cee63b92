package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/s3mirror/internal/logging"
)

const (
	// DefaultMaxBodyBytes bounds a push request body in memory.
	DefaultMaxBodyBytes = 1 << 20

	confirmTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Confirmer answers subscription challenges.
type Confirmer interface {
	Confirm(ctx context.Context, token string) error
}

// ServerOptions configures the ingress HTTP(S) server.
type ServerOptions struct {
	Host        string
	Port        int
	CertPath    string // non-empty together with CertKeyPath enables TLS
	CertKeyPath string
	Path        string // restrict to one request path; empty accepts any

	MaxBodyBytes int64

	Validator  *Validator // nil disables signature validation
	Dispatcher *Dispatcher
	Confirmer  Confirmer // nil: confirmations are logged only
	Logger     logging.Logger
}

// Server is the notification ingress.
type Server struct {
	opts ServerOptions
	log  logging.Logger

	listener net.Listener
	srv      *http.Server
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("ingress: dispatcher is required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewForLevel("NONE")
	}

	return &Server{opts: opts, log: logger.With("module", "ingress")}, nil
}

// Listen binds the configured address. Bind failures must surface before
// the process reports itself healthy, so this is separate from Serve.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.listener = listener
	s.srv = &http.Server{Handler: s}
	return nil
}

// Addr returns the bound address; valid after Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts requests until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("ingress: Serve before Listen")
	}

	go func() {
		<-ctx.Done()
		s.log.Info(ctx, "stopping ingress server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	useTLS := s.opts.CertPath != "" && s.opts.CertKeyPath != ""
	s.log.Info(ctx, "ingress listening", "addr", s.Addr(), "tls", useTLS)

	var err error
	if useTLS {
		err = s.srv.ServeTLS(s.listener, s.opts.CertPath, s.opts.CertKeyPath)
	} else {
		err = s.srv.Serve(s.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeHTTP handles one push delivery.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Path != "" && r.URL.Path != s.opts.Path {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.log.Error(ctx, "request body too large", "limit", s.opts.MaxBodyBytes)
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.log.Error(ctx, "could not read request body", "error", err)
		http.Error(w, "read error", http.StatusInternalServerError)
		return
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		s.log.Error(ctx, "could not parse envelope", "error", err)
		http.Error(w, "parse error", http.StatusInternalServerError)
		return
	}

	if s.opts.Validator != nil {
		if err := s.opts.Validator.Validate(ctx, env); err != nil {
			s.log.Error(ctx, "rejecting message with invalid signature",
				"message_id", env.MessageID, "error", err)
			http.Error(w, "invalid signature", http.StatusInternalServerError)
			return
		}
	}

	switch env.Type {
	case TypeSubscriptionConfirmation:
		s.log.Info(ctx, "subscription confirmation received", "topic_arn", env.TopicARN)
		if s.opts.Confirmer != nil {
			// Confirm out of band: the provider expects the 200 before
			// the confirm round-trip completes.
			go func(token string) {
				confirmCtx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
				defer cancel()
				if err := s.opts.Confirmer.Confirm(confirmCtx, token); err != nil {
					s.log.Error(confirmCtx, "subscription confirm failed", "error", err)
				}
			}(env.Token)
		}

	case TypeUnsubscribeConfirmation:
		s.log.Info(ctx, "unsubscribe confirmation received", "topic_arn", env.TopicARN)

	case TypeNotification:
		if err := s.opts.Dispatcher.DispatchMessage(ctx, env.Message); err != nil {
			s.log.Error(ctx, "could not dispatch notification", "error", err)
			http.Error(w, "dispatch error", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}
