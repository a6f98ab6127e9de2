package main

import (
	"fmt"
	"strings"

	"chat-studio-core/internal/convert"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "列出会话",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newClient().ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		newRenderer(cmd.OutOrStdout()).sessions(list)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "显示会话的消息",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := newClient().FetchHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		r := newRenderer(cmd.OutOrStdout())
		for _, m := range convert.Reconstruct(records) {
			r.message(m)
		}
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <session-id> <title>",
	Short: "修改会话标题",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.TrimSpace(strings.Join(args[1:], " "))
		if title == "" {
			return fmt.Errorf("title is empty")
		}
		return newClient().RenameSession(cmd.Context(), args[0], title)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>...",
	Short: "删除会话",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().DeleteSessions(cmd.Context(), args)
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "列出可用模型",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient()
		providers, err := c.ListModels(ctx)
		if err != nil {
			return err
		}
		def, err := c.DefaultModel(ctx)
		if err != nil {
			return err
		}
		newRenderer(cmd.OutOrStdout()).models(providers, def)
		return nil
	},
}
