package main

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"groupwatch/internal/client"
	"groupwatch/internal/console"
	"groupwatch/internal/metrics"
	"groupwatch/internal/playback"
	"groupwatch/internal/player"
	"groupwatch/internal/services"
	"groupwatch/internal/session"
	"groupwatch/internal/store"
)

func joinCmd() *cobra.Command {
	var (
		groupID         int64
		token           string
		displayName     string
		skipVerify      bool
		blockAutoplay   bool
		metadataLatency time.Duration
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a group's chat and shared video",
		Long: `Join connects to a group and reads commands from stdin. Plain lines are
chat messages; /help lists the playback commands.

The token is remembered per group, so later joins only need --group.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(flagStateDir)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := services.New(flagAuthURL, flagStreamURL)
			if err != nil {
				return err
			}

			sess, err := resolveSession(ctx, st, svc, groupID, token, displayName, skipVerify)
			if err != nil {
				return err
			}
			if err := st.Save(sess); err != nil {
				log.Warn().Err(err).Msg("[join] could not remember session")
			}

			reg := prometheus.NewRegistry()
			if flagMetricsAddr != "" {
				go serveMetrics(flagMetricsAddr, reg)
			}

			display := console.New(os.Stdout, sess.Identity)
			playerOpts := []player.Option{player.WithMetadataDelay(metadataLatency)}
			if blockAutoplay {
				playerOpts = append(playerOpts, player.WithAutoplayBlocked())
			}
			var sim *player.Sim
			deps := client.Deps{
				Display: display,
				NewPlayer: func(post func(ev any)) playback.Player {
					sim = player.New(post, playerOpts...)
					return sim
				},
				Metrics: metrics.New(metrics.WithRegistry(reg)),
			}
			c, err := client.New(sess, deps,
				client.WithEndpoint(flagEndpoint),
				client.WithStreamBase(flagStreamURL),
			)
			if err != nil {
				return err
			}
			defer sim.Close()

			log.Info().Msgf("[join] %s joining group %d via %s", sess.Name(), sess.GroupID, flagEndpoint)
			display.Printf("%s\n", console.Usage)

			go readCommands(ctx, c, sim, svc, display)
			return c.Run(ctx)
		},
	}

	cmd.Flags().Int64VarP(&groupID, "group", "g", 0, "group id (default: the last joined group)")
	cmd.Flags().StringVarP(&token, "token", "t", os.Getenv("GROUPWATCH_TOKEN"), "access token (env GROUPWATCH_TOKEN)")
	cmd.Flags().StringVar(&displayName, "name", "", "display name")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "do not check group access with the auth service first")
	cmd.Flags().BoolVar(&blockAutoplay, "block-autoplay", false, "refuse remote play until you start playback yourself once")
	cmd.Flags().DurationVar(&metadataLatency, "metadata-latency", player.DefaultMetadataDelay, "simulated time for a video to become seekable")

	return cmd
}

// resolveSession combines flags with the saved session for the group and
// confirms access with the auth service.
func resolveSession(ctx context.Context, st *store.Store, svc *services.Client, groupID int64, token, displayName string, skipVerify bool) (session.Session, error) {
	var saved session.Session
	var err error
	if groupID == 0 {
		saved, err = st.Last()
	} else {
		saved, err = st.Load(groupID)
	}
	if err != nil && token == "" {
		return session.Session{}, errors.WithHint(err, "pass --group and --token to join a group for the first time")
	}
	if groupID == 0 {
		groupID = saved.GroupID
	}
	if token == "" {
		token = saved.Token
	}
	if displayName == "" {
		displayName = saved.DisplayName
	}
	identity := saved.Identity
	if saved.Token != token {
		identity = ""
	}

	if !skipVerify {
		access, err := svc.VerifyGroupAccess(ctx, token, groupID)
		var authErr *services.AuthError
		switch {
		case errors.As(err, &authErr):
			if authErr.Cause == services.InvalidToken {
				_ = st.Delete(groupID)
				return session.Session{}, errors.WithHint(errors.Wrap(session.ErrNotAuthenticated, authErr.Error()), "sign in again and pass the new --token")
			}
			return session.Session{}, errors.Wrapf(authErr, "group %d", groupID)
		case err != nil:
			if identity == "" {
				return session.Session{}, errors.WithHint(err, "retry later or pass --skip-verify with a saved session")
			}
			log.Warn().Err(err).Msg("[join] auth service unavailable, using saved identity")
		default:
			identity = access.User
			if displayName == "" {
				displayName = access.Name
			}
		}
	}
	return session.New(groupID, token, identity, displayName)
}

func readCommands(ctx context.Context, c *client.Client, sim *player.Sim, svc *services.Client, display *console.Console) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, err := console.ParseCommand(scanner.Text())
		if err != nil {
			display.Printf("%v (try /help)\n", err)
			continue
		}
		switch cmd.Kind {
		case console.Chat:
			c.SendChat(cmd.Text)
		case console.Play:
			sim.UserPlay()
		case console.Pause:
			sim.UserPause()
		case console.Seek:
			sim.UserSeek(cmd.Seconds)
		case console.Video:
			c.ChangeVideo(cmd.Name)
		case console.Videos:
			printVideos(ctx, svc, display)
		case console.State:
			printState(ctx, c, sim, display)
		case console.Help:
			display.Printf("%s\n", console.Usage)
		case console.Quit:
			c.Disconnect()
			return
		}
	}
	// stdin closed
	c.Disconnect()
}

func printVideos(ctx context.Context, svc *services.Client, display *console.Console) {
	videos, err := svc.ListVideos(ctx)
	if err != nil {
		display.Printf("could not list videos: %v\n", err)
		return
	}
	if len(videos) == 0 {
		display.Printf("no videos available\n")
		return
	}
	for _, v := range videos {
		display.Printf("  %-40s %8.1f MB\n", v.Name, float64(v.Size)/(1<<20))
	}
}

func printState(ctx context.Context, c *client.Client, sim *player.Sim, display *console.Console) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		display.Printf("session closed\n")
		return
	}
	status := sim.Status()
	display.Printf("connection: %s (reconnects %d)\n", snap.Conn, snap.Reconnects)
	if !snap.Video.Loaded() {
		display.Printf("video: none\n")
		return
	}
	display.Printf("video: %s at %.1fs, playing=%t, phase=%s, suppressed=%t\n",
		snap.Video.Name, status.Position, status.Playing, snap.Phase, snap.Suppressed)
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info().Msgf("[metrics] serving on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("[metrics] server stopped")
	}
}
