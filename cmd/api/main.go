package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"estatesettle/internal/app"
	"estatesettle/internal/handlers"
	"estatesettle/internal/relay"
	"estatesettle/internal/routes"
	"estatesettle/pkg/config"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		logrus.Fatalf("> invalid configuration: %v", err)
	}
	config.SetupLogging(settings, "api")
	if settings.JWTSecret == "" {
		logrus.Fatal("> JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	config.InitDB(settings)
	a, err := app.New(settings, config.DB, config.InitRedis(settings.RedisURL))
	if err != nil {
		logrus.Fatalf("> failed to build services: %v", err)
	}
	defer a.Close()

	hub := handlers.NewHub(originChecker(settings.AllowedOrigins))
	if a.Redis != nil {
		go func() {
			if err := relay.Subscribe(ctx, a.Redis, hub); err != nil && !errors.Is(err, context.Canceled) {
				logrus.Errorf("> notification subscription stopped: %v", err)
			}
		}()
	} else {
		logrus.Warn("> REDIS_URL not set, websocket push only covers notifications delivered by this process")
	}

	r := routes.SetupRouter(a.Handler(hub), routes.Options{
		AllowedOrigins: settings.AllowedOrigins,
		JWTSecret:      []byte(settings.JWTSecret),
		RateLimit:      settings.RateLimit,
		RateBurst:      settings.RateBurst,
	})

	srv := &http.Server{Addr: ":" + settings.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("> api listening on :%s", settings.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("> failed to start server: %v", err)
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
