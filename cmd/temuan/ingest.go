package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"temuan/internal/types"
)

var ingestUser string

// ingestCmd loads audit records from a JSON-lines file (or stdin with "-").
// Each line is one record in the AuditRecord JSON shape. The ingestor keeps
// the department alias index and the record embeddings in step with every
// inserted row; bulk spreadsheet conversion happens upstream of this
// command.
var ingestCmd = &cobra.Command{
	Use:   "ingest <records.jsonl|->",
	Short: "Ingest audit records from a JSON-lines file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open records file: %w", err)
			}
			defer f.Close()
			in = f
		}

		user := ingestUser
		if user == "" {
			user = "cli"
		}

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		line, ingested := 0, 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			var rec types.AuditRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("line %d: parse record: %w", line, err)
			}
			if _, err := a.ingestor.Ingest(ctx, rec, user); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			ingested++
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read records: %w", err)
		}

		logger.Info("records ingested", zap.Int("count", ingested))
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestUser, "user", "u", "", "User id recorded on created department groups")
}
