// Command orthanc-anonymize anonymizes one study on an Orthanc server.
//
// It snapshots the study first, so instances received while the anonymization
// runs are neither anonymized half-way nor deleted unprocessed: only the
// snapshot is modified, and only the snapshot is deleted afterwards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rollbar/rollbar-go"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	orthanc "gitlab.com/medical-research/orthanc-client"
	"gitlab.com/medical-research/orthanc-client/rest"
)

// Config holds the server connection settings, read from the environment.
type Config struct {
	URL          string        `env:"ORTHANC_URL, required"`
	Username     string        `env:"ORTHANC_USERNAME"`
	Password     string        `env:"ORTHANC_PASSWORD"`
	Timeout      time.Duration `env:"ORTHANC_TIMEOUT, default=60s"`
	RollbarToken string        `env:"ROLLBAR_TOKEN"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		replace        map[string]string
		remove         []string
		keep           []string
		force          bool
		deleteOriginal bool
	)

	cmd := &cobra.Command{
		Use:   "orthanc-anonymize <study-id>",
		Short: "Anonymize a study through a consistent snapshot of its instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], orthanc.ModifyRequest{
				Replace:    replace,
				Remove:     remove,
				Keep:       keep,
				KeepSource: true,
				Force:      force,
			}, deleteOriginal)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringToStringVar(&replace, "replace", nil, "tags to force, as name=value pairs")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "tags to strip")
	cmd.Flags().StringSliceVar(&keep, "keep", nil, "tags to preserve")
	cmd.Flags().BoolVar(&force, "force", false, "allow dangerous edits such as changing patient identity")
	cmd.Flags().BoolVar(&deleteOriginal, "delete-original", false, "delete the snapshotted instances once the anonymized study exists")

	return cmd
}

func run(cmd *cobra.Command, studyID string, req orthanc.ModifyRequest, deleteOriginal bool) error {
	ctx := cmd.Context()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize error tracking.
	if cfg.RollbarToken != "" {
		rollbar.SetToken(cfg.RollbarToken)
		rollbar.SetEnvironment("production")
		rollbar.SetServerRoot("gitlab.com/medical-research/orthanc-client")
		defer rollbar.Close()
	}

	opts := []rest.Option{
		rest.WithLogger(logger),
		rest.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts, rest.WithBasicAuth(cfg.Username, cfg.Password))
	}
	client := rest.NewClient(cfg.URL, opts...)

	if err := anonymize(cmd, client, logger, studyID, req, deleteOriginal); err != nil {
		if cfg.RollbarToken != "" {
			rollbar.Error(err)
		}
		return err
	}
	return nil
}

func anonymize(cmd *cobra.Command, client *rest.Client, logger *zap.Logger, studyID string, req orthanc.ModifyRequest, deleteOriginal bool) error {
	ctx := cmd.Context()

	set, err := orthanc.NewInstancesSetFromStudyID(ctx, client, studyID)
	if err != nil {
		return err
	}
	logger.Info("study snapshotted",
		zap.String("studyID", studyID),
		zap.Int("series", len(set.SeriesIDs())),
		zap.Int("instances", len(set.InstanceIDs())))

	modified, err := set.Modify(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("study anonymized",
		zap.String("studyID", studyID),
		zap.String("modifiedStudyID", modified.StudyID()))

	if deleteOriginal {
		if err := set.Delete(ctx); err != nil {
			return err
		}
		logger.Info("original instances deleted",
			zap.String("studyID", studyID),
			zap.Int("instances", len(set.InstanceIDs())))
	}

	fmt.Fprintln(cmd.OutOrStdout(), modified.StudyID())
	return nil
}
