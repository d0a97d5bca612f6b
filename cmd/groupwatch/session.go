package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"groupwatch/internal/services"
	"groupwatch/internal/store"
)

func videosCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "videos",
		Short: "List the videos the stream service offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := services.New(flagAuthURL, flagStreamURL, services.WithTimeout(timeout))
			if err != nil {
				return err
			}
			videos, err := svc.ListVideos(context.Background())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(videos) == 0 {
				fmt.Fprintln(out, "no videos available")
			}
			for _, v := range videos {
				fmt.Fprintf(out, "%-40s %10d\n", v.Name, v.Size)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func logoutCmd() *cobra.Command {
	var (
		groupID int64
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(flagStateDir)
			if err != nil {
				return err
			}
			defer st.Close()

			if all {
				sessions, err := st.List()
				if err != nil {
					return err
				}
				for _, s := range sessions {
					if err := st.Delete(s.GroupID); err != nil {
						return err
					}
				}
				log.Info().Int("sessions", len(sessions)).Msg("[logout] forgot all sessions")
				return nil
			}

			if groupID == 0 {
				last, err := st.Last()
				if err != nil {
					return err
				}
				groupID = last.GroupID
			}
			if err := st.Delete(groupID); err != nil {
				return err
			}
			log.Info().Int64("group", groupID).Msg("[logout] forgot session")
			return nil
		},
	}
	cmd.Flags().Int64VarP(&groupID, "group", "g", 0, "group to forget (default: the last joined group)")
	cmd.Flags().BoolVar(&all, "all", false, "forget every saved session")
	return cmd
}
