package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	querySession  string
	queryUser     string
	queryThinking string
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Route one natural-language question through the pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		question := strings.Join(args, " ")
		session := querySession
		if session == "" {
			session = uuid.NewString()
			logger.Info("no session supplied, generated one", zap.String("session", session))
		}
		user := queryUser
		if user == "" {
			user = "cli"
		}

		resp, rerr := a.router.ProcessQuery(ctx, question, routerOptions(session, user, queryThinking))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if rerr != nil {
			// The failure arm of the response union.
			out := map[string]interface{}{
				"success": false,
				"error":   rerr,
			}
			if err := enc.Encode(out); err != nil {
				return err
			}
			return fmt.Errorf("query failed: %s", rerr.Code)
		}
		return enc.Encode(resp)
	},
}

func init() {
	queryCmd.Flags().StringVarP(&querySession, "session", "s", "", "Chat session id (generated when absent)")
	queryCmd.Flags().StringVarP(&queryUser, "user", "u", "", "User id recorded in the audit trail")
	queryCmd.Flags().StringVar(&queryThinking, "thinking", "", `Thinking mode: "fast" or "thorough"`)
}
