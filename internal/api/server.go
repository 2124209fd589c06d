// Package api is the HTTP producer surface of the reminder service.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Reminders is the part of reminder.Service the API drives.
type Reminders interface {
	Create(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error)
	Get(ctx context.Context, id int64) (reminder.Reminder, error)
	Cancel(ctx context.Context, chatID, ownerID int64, ids []int64) (int, error)
	List(ctx context.Context, chatID, ownerID int64) ([]reminder.Reminder, error)
}

type Config struct {
	Addr         string
	JWTSecret    []byte
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxBody caps reminder bodies in runes; 0 means no limit.
	MaxBody int
	Now     func() time.Time
}

type Server struct {
	cfg  Config
	svc  Reminders
	log  logx.Logger
	echo *echo.Echo

	mu   sync.Mutex
	addr net.Addr
}

func New(cfg Config, svc Reminders, log logx.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("api: reminder service is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("api: jwt secret is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8088"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, svc: svc, log: log.With(logx.String("comp", "api"))}
	s.echo = s.routes()
	return s, nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logx.Field{
				logx.String("method", v.Method),
				logx.String("uri", v.URI),
				logx.Int("status", v.Status),
				logx.Duration("latency", v.Latency),
				logx.String("req_id", v.RequestID),
			}
			if v.Error != nil {
				s.log.Warn("api request failed", append(fields, logx.Err(v.Error))...)
				return nil
			}
			s.log.Debug("api request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/v1", bearerAuth(s.cfg.JWTSecret))
	v1.POST("/reminders", s.createReminder)
	v1.GET("/reminders/:id", s.getReminder)
	v1.DELETE("/reminders/:id", s.deleteReminder)
	v1.GET("/chats/:chat_id/members/:owner_id/reminders", s.listReminders)
	return e
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Addr is the bound listen address once Run is serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.echo,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("api shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	return nil
}
