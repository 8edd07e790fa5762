// Package httpserver 本地状态接口：健康检查、会话状态、Prometheus 指标与事件流
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// StatusProvider 返回当前会话状态快照
type StatusProvider func() map[string]interface{}

// Options 状态服务器选项
type Options struct {
	Addr           string
	AllowedOrigins []string
	Status         StatusProvider
	Timeline       func() interface{} // 可选，/api/v1/session
	Metrics        http.Handler       // 可选，/metrics
	Events         http.HandlerFunc   // 可选，/api/v1/events
}

// APIResponse API响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// StatusServer 状态HTTP服务器
type StatusServer struct {
	opts     Options
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	log      *slog.Logger

	requestCount atomic.Int64
	errorCount   atomic.Int64
	startTime    time.Time
}

// New 创建状态服务器
func New(opts Options) *StatusServer {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &StatusServer{
		opts:      opts,
		router:    mux.NewRouter(),
		log:       slog.Default().With("module", "httpserver"),
		startTime: time.Now(),
	}
	s.setupRoutes()

	// 设置CORS
	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// setupRoutes 设置路由
func (s *StatusServer) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	api.HandleFunc("/session", s.sessionHandler).Methods(http.MethodGet)
	if s.opts.Events != nil {
		api.HandleFunc("/events", s.opts.Events)
	}
}

// Handler 路由处理器（含CORS），供测试使用
func (s *StatusServer) Handler() http.Handler {
	return s.server.Handler
}

// 中间件
func (s *StatusServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.requestCount.Add(1)
		next.ServeHTTP(w, r)
		s.log.Debug("http request", "method", r.Method, "uri", r.RequestURI,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *StatusServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.writeSuccessResponse(w, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "status not available")
		return
	}
	data := s.opts.Status()
	data["http_requests"] = s.requestCount.Load()
	s.writeSuccessResponse(w, data)
}

func (s *StatusServer) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Timeline == nil {
		s.writeErrorResponse(w, http.StatusNotFound, "session timeline disabled")
		return
	}
	s.writeSuccessResponse(w, s.opts.Timeline())
}

// 辅助方法
func (s *StatusServer) writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *StatusServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.errorCount.Add(1)
	s.writeJSONResponse(w, statusCode, APIResponse{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *StatusServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// Listen 绑定端口，之后 Addr 返回实际地址
func (s *StatusServer) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr 实际监听地址
func (s *StatusServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Run 提供服务直到 ctx 结束，随后优雅关闭
func (s *StatusServer) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.log.Info("status server listening", "addr", s.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(s.listener) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// GetStats 获取服务器统计信息
func (s *StatusServer) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"total_requests": s.requestCount.Load(),
		"error_count":    s.errorCount.Load(),
	}
}
