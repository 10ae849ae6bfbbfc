package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/warrenmnocos/oauth2/auth"
	"github.com/warrenmnocos/oauth2/clients"
	fakeclientrepo "github.com/warrenmnocos/oauth2/clients/fakerepo"
	"github.com/warrenmnocos/oauth2/internal/config"
	"github.com/warrenmnocos/oauth2/server"
	"github.com/warrenmnocos/oauth2/token"
	tokenjwt "github.com/warrenmnocos/oauth2/token/jwt"
	"github.com/warrenmnocos/oauth2/token/memstore"
	"github.com/warrenmnocos/oauth2/token/redisstore"
	fakeuserrepo "github.com/warrenmnocos/oauth2/users/repofake"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	c := config.New()
	displayAppname(c.GetAppName())

	store, err := buildStore(c)
	if err != nil {
		return err
	}

	clientRepo := fakeclientrepo.NewFakeClientRepo()
	userRepo := fakeuserrepo.NewFakeUserRepo()

	managerOptions := []token.ManagerOption{token.WithLogger(log.Logger)}
	if secret := c.GetJWTSigningSecret(); secret != "" {
		managerOptions = append(managerOptions, token.WithEnhancer(tokenjwt.NewEnhancer(secret, c.GetIssuer())))
	}

	manager := token.New(store, clients.NewResolver(clientRepo, c), managerOptions...)
	authenticator := auth.NewPasswordAuthenticator(userRepo)

	httpServer := &http.Server{
		Addr:    c.GetPort(),
		Handler: server.New(c, manager, clientRepo, authenticator),
	}

	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server.ListenAndServe: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		waitForStopSignal(ctx)
		return shutdown(httpServer)
	})

	return group.Wait()
}

func buildStore(c config.Config) (token.Store, error) {
	redisAddr := c.GetRedisAddr()
	if redisAddr == "" {
		log.Warn().Msg("REDIS_ADDR not set, using in-memory token store")
		return memstore.New(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: c.GetRedisPassword(),
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", redisAddr).Msg("Using Redis token store")
	return redisstore.New(client, redisstore.WithLockTTL(c.GetKeyLockTimeout())), nil
}

func waitForStopSignal(ctx context.Context) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
