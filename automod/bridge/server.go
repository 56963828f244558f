package bridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/engine"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

// collectors register globally, so the middleware is built once per process
var metricsMiddleware = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("guardbot_bridge")
})

type Server struct {
	echo  *echo.Echo
	httpd *http.Server
	sink  Sink
	log   *slog.Logger
}

type ServerConfig struct {
	Addr string
	// if set, inbound requests must carry it as a bearer token
	Token string
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func NewServer(conf ServerConfig, sink Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	srv := &Server{
		echo: e,
		sink: sink,
		log:  logger.With("system", "bridge-server"),
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           conf.Addr,
		WriteTimeout:   30 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxHeaderBytes: 1024 * 1024,
	}

	e.HideBanner = true
	e.Use(slogecho.New(srv.log))
	e.Use(middleware.Recover())
	e.Use(metricsMiddleware())
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())

	api := e.Group("/v1")
	if conf.Token != "" {
		api.Use(middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(conf.Token)) == 1, nil
		}))
	}
	api.POST("/events", srv.HandleEvent)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Start serves until Shutdown. Returns nil after a clean shutdown.
func (srv *Server) Start() error {
	srv.log.Info("starting bridge server", "bind", srv.httpd.Addr)
	if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithListener is Start on an existing listener.
func (srv *Server) StartWithListener(li net.Listener) error {
	if err := srv.httpd.Serve(li); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (srv *Server) Shutdown(ctx context.Context) error {
	srv.log.Info("shutting down bridge server")
	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= 500 {
		srv.log.Warn("bridge-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, GenericStatus{Daemon: "guardbot", Status: "error", Message: msg}); err != nil {
		srv.log.Error("failed to write http error", "err", err)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "guardbot"})
}

// HandleEvent queues an inbound event. The response only acknowledges receipt; moderation happens asynchronously.
func (srv *Server) HandleEvent(c echo.Context) error {
	var env Envelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body")
	}
	switch env.Kind {
	case engine.KindMessage, engine.KindMembershipAdd:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported event kind: %q", env.Kind))
	}
	if env.Group.IsEmpty() {
		return echo.NewHTTPError(http.StatusBadRequest, "missing group")
	}

	if err := srv.sink.Submit(c.Request().Context(), env); err != nil {
		srv.log.Error("failed to queue event", "err", err, "kind", env.Kind, "group", env.Group)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event not accepted")
	}
	return c.JSON(http.StatusAccepted, GenericStatus{Status: "accepted", Daemon: "guardbot"})
}
