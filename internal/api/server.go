package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/observability/metrics"
	"AgentHive/pkg/logger"
)

// Hive 是 HTTP 层依赖的编排能力，*agent.Hive 实现了该接口。
type Hive interface {
	Chat(ctx context.Context, input string) (string, error)
	Structure() string
}

// ChatRequest 是聊天接口的请求体。
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse 是聊天接口的响应体。
type ChatResponse struct {
	Reply string `json:"reply"`
}

// TeamResponse 是组织结构接口的响应体。
type TeamResponse struct {
	Structure string `json:"structure"`
}

// ErrorResponse 是统一的错误响应体。
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr   string
	hive   Hive
	echo   *echo.Echo
	logger *slog.Logger

	// turnMu 保证同一时间只有一个聊天回合在执行。
	turnMu sync.Mutex
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, hive Hive) *Server {
	s := &Server{
		addr:   addr,
		hive:   hive,
		echo:   echo.New(),
		logger: logger.Named("api"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			metrics.ObserveHTTPRequest(c.Path(), v.Method, v.Status, v.Latency)
			s.logger.Info("请求完成",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	s.RegisterRoutes(s.echo)
	return s
}

// RegisterRoutes 注册全部路由。
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Default().Handler()))
	v1 := e.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.GET("/team", s.handleTeam)
}

// Handler 返回底层 http.Handler。
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务启动", slog.String("addr", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: string(xerrors.CodeInvalidArgument), Error: "请求体解析失败"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: string(xerrors.CodeInvalidArgument), Error: "message 不能为空"})
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	reply, err := s.hive.Chat(c.Request().Context(), req.Message)
	if err != nil {
		s.logger.Error("聊天回合失败",
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		return c.JSON(statusOf(err), ErrorResponse{Code: string(xerrors.CodeOf(err)), Error: xerrors.MessageOf(err)})
	}
	return c.JSON(http.StatusOK, ChatResponse{Reply: reply})
}

func (s *Server) handleTeam(c echo.Context) error {
	return c.JSON(http.StatusOK, TeamResponse{Structure: s.hive.Structure()})
}

func statusOf(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeBackendFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
