package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kirillkom/policy-rag/internal/bootstrap"
	"github.com/kirillkom/policy-rag/internal/config"
	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

// AuditLister reads recent answer audit records.
type AuditLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.AnswerAudit, error)
}

// Services is what the commands run against. Notifier and Audit are nil when
// NATS or Postgres are not configured.
type Services struct {
	Answers   ports.AnswerService
	Inspector ports.RetrievalInspector
	Status    ports.StatusReporter
	Notifier  ports.ReloadNotifier
	Audit     AuditLister
	Close     func()
}

var (
	outputJSON   bool
	loadServices = defaultServices

	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	dimColor  = color.New(color.Faint)
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Inspect and query the policy retrieval engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print JSON instead of text")
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func defaultServices(ctx context.Context) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.WatchArtifacts = false
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	svc := &Services{
		Answers:   app.Answers,
		Inspector: app.Answers,
		Status:    app.Status,
		Close:     app.Close,
	}
	if app.Notifier != nil {
		svc.Notifier = app.Notifier
	}
	if app.Audit != nil {
		svc.Audit = app.Audit
	}
	return svc, nil
}

func withServices(cmd *cobra.Command, fn func(*Services) error) error {
	svc, err := loadServices(cmd.Context())
	if err != nil {
		return err
	}
	if svc.Close != nil {
		defer svc.Close()
	}
	return fn(svc)
}

func printJSON(w io.Writer, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

var errNotConfigured = errors.New("not configured")
