package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yoockh/hintline/config"
	"github.com/yoockh/hintline/internal/api/handlers"
	"github.com/yoockh/hintline/internal/api/middleware"
	"github.com/yoockh/hintline/internal/api/routes"
	"github.com/yoockh/hintline/internal/events"
	"github.com/yoockh/hintline/internal/logger"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/pipeline"
	"github.com/yoockh/hintline/internal/providers/hint"
	"github.com/yoockh/hintline/internal/providers/stt"
	redisrepo "github.com/yoockh/hintline/internal/repositories/redis"
	"github.com/yoockh/hintline/internal/services"
	"github.com/yoockh/hintline/internal/transcript"
	"github.com/yoockh/hintline/internal/workers"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hint pipeline and its HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log := logger.New(level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(0)
	sinks := events.Multi{hub}

	var (
		rdb      *redis.Client
		sessions services.SessionService
		recorder pipeline.Recorder
	)
	if addr := cfg.Redis(); addr != "" {
		rdb, err = config.NewRedis(ctx, addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		log.Info("redis connected")

		sessions = services.NewSessionService(redisrepo.NewSessionRepo(rdb), cfg.SessionTTL)
		recorder = sessions

		pub := events.NewRedisPublisher(rdb, cfg.EventsPrefix, log)
		go pub.Run(ctx)
		sinks = append(sinks, pub)
	} else {
		log.Info("REDIS_ADDR not set, session persistence and audio forwarding disabled")
	}

	p := pipeline.New(pipeline.Config{
		Dialer: &stt.WSDialer{
			URL:        cfg.STT.URL,
			APIKey:     cfg.STT.APIKey,
			SampleRate: cfg.STT.SampleRate,
			Encoding:   cfg.STT.Encoding,
			Logger:     log,
		},
		Streamer: hint.NewClient(hint.Config{
			BaseURL:    cfg.Hint.BaseURL,
			StreamPath: cfg.Hint.StreamPath,
			APIKey:     cfg.Hint.APIKey,
			Timeout:    cfg.Hint.Timeout,
			Logger:     log,
		}),
		Sink:     sinks,
		Recorder: recorder,
		Logger:   log,

		BufferCap:  cfg.BufferCap,
		WindowSize: cfg.WindowSize,
		MaxChars:   cfg.MaxChars,
		Labels:     transcript.Labels{Primary: cfg.PrimaryLabel, Secondary: cfg.SecondaryLabel},

		AutoHints:        cfg.AutoHints,
		AutoHintDebounce: cfg.AutoHintDebounce,

		Profile:      cfg.Hint.Profile,
		SystemPrompt: cfg.Hint.SystemPrompt,
		UserContext:  cfg.Hint.UserContext,
		Model:        cfg.Hint.Model,
		Sampling:     models.Sampling{MaxTokens: cfg.Hint.MaxTokens, Temperature: cfg.Hint.Temperature},
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		p.Run(ctx)
	}()

	if rdb != nil {
		fwd := &workers.AudioForwarder{
			Redis:  rdb,
			Sink:   p,
			Logger: log,
			Stream: cfg.AudioStream,
			Group:  cfg.AudioGroup,
		}
		if err := fwd.Start(ctx); err != nil {
			log.WithError(err).Warn("audio forwarder not started")
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           newRouter(log, p, hub, sessions, cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddress).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		stop()
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}

	// the loop persists a running session before it returns
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		log.Warn("pipeline did not stop in time")
	}
	return err
}

func newRouter(log *logrus.Logger, p *pipeline.Pipeline, hub *events.Hub, sessions services.SessionService, secret string) *gin.Engine {
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	deps := routes.Deps{
		Pipeline:  handlers.NewPipelineHandler(p),
		WS:        handlers.NewWSHandler(p, hub, log),
		JWTSecret: secret,
	}
	if sessions != nil {
		deps.Session = handlers.NewSessionHandler(sessions)
	}
	routes.RegisterRoutes(r, deps)
	return r
}
