package main

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fairyhunter13/search-gateway/internal/adapter/repo/filestore"
	"github.com/fairyhunter13/search-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/search-gateway/internal/config"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	"github.com/fairyhunter13/search-gateway/pkg/textx"
)

func newVotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "votes",
		Short: "Inspect recorded votes",
	}
	cmd.AddCommand(newVotesShowCmd())
	return cmd
}

func newVotesShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <conversation_id>",
		Short: "Print the vote stored for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			repo, closeFn, err := openVoteRepo(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			v, err := repo.Get(cmd.Context(), textx.SanitizeKey(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			_, err = fmt.Fprintln(out, renderVote(v))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stored record")
	return cmd
}

func openVoteRepo(cmd *cobra.Command, cfg config.Config) (domain.VoteRepository, func(), error) {
	if cfg.UsesPostgresVotes() {
		pool, err := postgres.NewPool(cmd.Context(), cfg.DBURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewVotesRepo(pool), pool.Close, nil
	}
	fs, err := filestore.NewVoteStore(cfg.VotesDir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func renderVote(v domain.Vote) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"conversation_id", v.ConversationID},
		{"server_conversation_id", v.ServerConversationID},
		{"query_id", v.QueryID},
		{"vote", v.Vote},
		{"is_final", v.IsFinal},
		{"timestamp", v.Timestamp},
		{"client_ip", v.ClientIP},
		{"recorded_at", v.RecordedAt.Format("2006-01-02 15:04:05")},
	})
	return t.Render()
}
