// Package api is the local control surface: a gin HTTP API over the call
// manager, contact store and log buffer, plus a WebSocket event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/petervdpas/goopcall/internal/avatar"
	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/storage"
	"github.com/petervdpas/goopcall/internal/util"
	"github.com/rs/cors"
)

// Calls is the call manager as the API drives it.
type Calls interface {
	StartCall(ctx context.Context, partnerID string, t call.CallType) (*call.Session, error)
	Answer(ctx context.Context) (*call.Session, error)
	Reject() error
	Hangup() error
	ToggleMic(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	ToggleDeafen(ctx context.Context) (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)
	SetRemoteVolume(v float64) (float64, error)
	Status() (call.Status, bool)
	Subscribe() (<-chan call.Event, func())
	Listen(ctx context.Context, partnerID string) error
}

// Store holds contacts and the call log.
type Store interface {
	ListContacts() ([]storage.Contact, error)
	GetContact(id string) (storage.Contact, error)
	UpsertContact(c storage.Contact) error
	SetContactAvatar(id, url string) error
	ListCalls(limit int) ([]storage.CallEntry, error)
}

type Options struct {
	Addr           string
	SelfID         string
	AllowedOrigins []string
	// JWTSecret enables bearer-token auth on /api when set.
	JWTSecret string
	Calls     Calls
	Store     Store
	Blobs     *avatar.Blobs
	Logs      *LogBuffer
}

type Server struct {
	opts    Options
	engine  *gin.Engine
	cors    *cors.Cors
	handler http.Handler
	srv     *http.Server
	addr    string
}

func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{opts: opts, engine: gin.New()}
	s.cors = cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	s.engine.Use(gin.Recovery(), requestLog())
	s.routes()
	s.handler = s.cors.Handler(s.engine)
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/api/health", s.health)
	r.GET("/api/openapi.json", s.openapi)
	r.GET("/blobs/:name", s.blob)

	api := r.Group("/api")
	if s.opts.JWTSecret != "" {
		api.Use(JWTAuth(s.opts.JWTSecret))
	}
	{
		api.GET("/call", s.callStatus)
		api.POST("/call/start", s.callStart)
		api.POST("/call/answer", s.callAnswer)
		api.POST("/call/reject", s.callReject)
		api.POST("/call/hangup", s.callHangup)
		api.POST("/call/mic", s.toggle(s.opts.Calls.ToggleMic))
		api.POST("/call/video", s.toggle(s.opts.Calls.ToggleVideo))
		api.POST("/call/deafen", s.toggle(s.opts.Calls.ToggleDeafen))
		api.POST("/call/screen", s.toggle(s.opts.Calls.ToggleScreenShare))
		api.POST("/call/volume", s.callVolume)

		api.GET("/calls/history", s.callHistory)

		api.GET("/contacts", s.contactList)
		api.POST("/contacts", s.contactUpsert)
		api.POST("/contacts/:id/avatar", s.contactAvatar)

		api.GET("/logs", s.logs)
		api.GET("/events", s.events)
	}
}

// Handler is the full HTTP handler, CORS included.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API: serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), util.ShutdownTimeout)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	log.Printf("API: listening on http://%s", s.addr)
	return nil
}

// URL is the base URL of a started server.
func (s *Server) URL() string { return "http://" + s.addr }

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/api/events" {
			return
		}
		log.Printf("API: %s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
