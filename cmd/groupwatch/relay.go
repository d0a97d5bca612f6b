package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"groupwatch/internal/hertzapi"
	"groupwatch/internal/httpapi"
	"groupwatch/internal/relay"
)

func relayCmd() *cobra.Command {
	var (
		addr     string
		engine   string
		mediaDir string
		accounts []string
		groups   []int64
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a local relay serving auth, chat and video streams",
		Long: `Relay runs the group chat service on one address. It answers access
checks, relays chat and playback frames over websockets and streams
videos from --media.

Accounts are given as token=email[:name[:group,group...]], for example
--account tok-a=alice@example.com:Alice:1,2`,
		Example: "  groupwatch relay --media ./videos --account tok-a=alice@example.com:Alice:1",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := relay.NewDirectory()
			for _, id := range groups {
				dir.AddGroup(id)
			}
			if env := os.Getenv("GROUPWATCH_ACCOUNTS"); env != "" {
				accounts = append(accounts, strings.Split(env, ";")...)
			}
			for _, account := range accounts {
				if err := dir.ParseAccount(account); err != nil {
					return errors.WithHint(err, "accounts look like token=email:name:1,2")
				}
			}
			hub := relay.NewHub(dir)
			library := relay.NewLibrary(mediaDir)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			switch engine {
			case "hertz":
				return runHertz(ctx, addr, hub, library)
			case "echo":
				return runEcho(ctx, addr, hub, library)
			default:
				return errors.Newf("unknown engine %q", engine)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", envOr("GROUPWATCH_RELAY_ADDR", ":8001"), "listen address")
	cmd.Flags().StringVar(&engine, "engine", "hertz", "http engine: hertz or echo")
	cmd.Flags().StringVar(&mediaDir, "media", envOr("GROUPWATCH_MEDIA_DIR", "videos"), "directory of streamable videos")
	cmd.Flags().StringArrayVar(&accounts, "account", nil, "account as token=email[:name[:groups]] (repeatable, env GROUPWATCH_ACCOUNTS separated by ;)")
	cmd.Flags().Int64SliceVar(&groups, "group", nil, "groups that exist without members")

	return cmd
}

func runHertz(ctx context.Context, addr string, hub *relay.Hub, library *relay.Library) error {
	h := server.Default(server.WithHostPorts(addr))
	hertzapi.NewRouter(h, hub, library)

	go func() {
		log.Info().Msgf("[relay] hertz listening on %s", addr)
		h.Spin()
	}()

	<-ctx.Done()
	log.Info().Msg("[relay] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	log.Info().Msg("[relay] stopped")
	return nil
}

func runEcho(ctx context.Context, addr string, hub *relay.Hub, library *relay.Library) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewServer(hub, library).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("[relay] echo listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "listen on %s", addr)
	case <-ctx.Done():
	}
	log.Info().Msg("[relay] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	log.Info().Msg("[relay] stopped")
	return nil
}
