package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

var (
	queryTopK  int
	reloadNote string
	auditLimit int
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Show the drift report between the dense index and the corpus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(cmd, func(svc *Services) error {
			report := svc.Status.Status(cmd.Context())
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printDrift(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run retrieval and the confidence gate without generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(svc *Services) error {
			trace, err := svc.Inspector.Retrieve(cmd.Context(), domain.QueryRequest{Question: args[0], TopK: queryTopK})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), trace)
			}
			printTrace(cmd.OutOrStdout(), trace)
			return nil
		})
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer [query]",
	Short: "Answer a question with citations or abstain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(svc *Services) error {
			result, err := svc.Answers.Answer(cmd.Context(), domain.QueryRequest{Question: args[0], TopK: queryTopK})
			if err != nil {
				return fmt.Errorf("answer failed: %w", err)
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printAnswer(cmd.OutOrStdout(), result)
			return nil
		})
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask every running replica to reload artifacts over NATS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(cmd, func(svc *Services) error {
			if svc.Notifier == nil {
				return fmt.Errorf("reload notifier: NATS_URL %w", errNotConfigured)
			}
			if err := svc.Notifier.PublishReload(cmd.Context(), reloadNote); err != nil {
				return fmt.Errorf("publish reload: %w", err)
			}
			okColor.Fprintln(cmd.OutOrStdout(), "reload requested")
			return nil
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recent answer audit records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(cmd, func(svc *Services) error {
			if svc.Audit == nil {
				return fmt.Errorf("audit log: POSTGRES_DSN %w", errNotConfigured)
			}
			records, err := svc.Audit.ListRecent(cmd.Context(), auditLimit)
			if err != nil {
				return fmt.Errorf("list audit records: %w", err)
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			printAudit(cmd.OutOrStdout(), records)
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "evidence chunks to keep (default from config)")
	answerCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "evidence chunks to keep (default from config)")
	reloadCmd.Flags().StringVar(&reloadNote, "reason", "ragctl", "reason recorded by receivers")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "number of records")

	rootCmd.AddCommand(driftCmd, searchCmd, answerCmd, reloadCmd, auditCmd)
}

func printDrift(w io.Writer, report domain.ReadinessReport) {
	modeColor := okColor
	if !report.HybridEnabled {
		modeColor = warnColor
	}
	fmt.Fprint(w, "retrieval mode: ")
	modeColor.Fprintln(w, report.RetrievalMode)
	fmt.Fprintf(w, "snapshot:       %s (%d chunks)\n", report.SnapshotVersion, report.CorpusChunks)
	if report.Drift == nil {
		warnColor.Fprintln(w, "no artifact snapshot loaded")
		return
	}
	d := report.Drift
	fmt.Fprintf(w, "overlap:        %d/%d (%.2f, threshold %.2f)\n", d.Overlap, d.VectorChunkIDs, d.OverlapRatio, d.Threshold)
	if d.Reason != "" {
		fmt.Fprint(w, "reason:         ")
		warnColor.Fprintln(w, d.Reason)
	}
	dimColor.Fprintf(w, "evaluated at %s\n", d.EvaluatedAt.Format("2006-01-02T15:04:05Z07:00"))
}

func printTrace(w io.Writer, trace domain.RetrievalTrace) {
	fmt.Fprintf(w, "mode: %s", trace.Mode)
	if trace.DegradedReason != "" {
		warnColor.Fprintf(w, " (degraded: %s)", trace.DegradedReason)
	}
	fmt.Fprintln(w)
	if len(trace.Candidates) == 0 {
		fmt.Fprintln(w, "No results found.")
	}
	for _, c := range trace.Candidates {
		vector := "-"
		if c.VectorScore != nil {
			vector = fmt.Sprintf("%.3f", *c.VectorScore)
		}
		fmt.Fprintf(w, "  [%d] %s fused=%.3f lexical=%.3f vector=%s\n", c.Rank, c.ChunkID, c.FusedScore, c.LexicalScore, vector)
		dimColor.Fprintf(w, "      %s\n", c.SourceURL)
	}
	if trace.Gate.Passed() {
		okColor.Fprintf(w, "gate: pass (top %.3f, %d docs)\n", trace.Gate.TopScore, trace.Gate.DistinctDocs)
		return
	}
	warnColor.Fprintf(w, "gate: abstain %s (top %.3f, %d docs)\n", trace.Gate.Reason, trace.Gate.TopScore, trace.Gate.DistinctDocs)
}

func printAnswer(w io.Writer, result *domain.AnswerResult) {
	if result.Answer == nil {
		warnColor.Fprintf(w, "abstained: %s\n", *result.AbstainReason)
	} else {
		fmt.Fprintln(w, strings.TrimSpace(*result.Answer))
		fmt.Fprintln(w)
		for _, c := range result.Citations {
			fmt.Fprintf(w, "  %s %s ", c.Cite, c.ChunkID)
			dimColor.Fprintln(w, c.SourceURL)
		}
	}
	dimColor.Fprintf(w, "mode=%s confidence=%.3f attempts=%d total=%.2fs\n",
		result.RetrievalMode, result.Confidence, result.GenerationAttempts, result.Timing.TotalSeconds)
}

func printAudit(w io.Writer, records []domain.AnswerAudit) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit records.")
		return
	}
	for _, r := range records {
		outcome := okColor
		if r.Outcome != "answered" {
			outcome = warnColor
		}
		fmt.Fprintf(w, "%s ", r.CreatedAt.Format("2006-01-02 15:04:05"))
		outcome.Fprintf(w, "%-9s", r.Outcome)
		fmt.Fprintf(w, " %-22s %.3f %s\n", r.AbstainReason, r.Confidence, r.Question)
	}
}
