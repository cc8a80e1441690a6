package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kozaktomas/camflow/internal/delivery"
	"github.com/kozaktomas/camflow/internal/handoff"
	"github.com/kozaktomas/camflow/internal/pipeline"
	"github.com/kozaktomas/camflow/internal/progress"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [image...]",
	Short: "Analyse images and deliver the results",
	Long: `Run a task in this process: analyse or recognize the given images and
deliver the digest to the destination. Images may be local paths, file://,
s3://bucket/key or http(s) URLs.

Examples:
  # Describe two photos and send them to a Telegram chat
  camflow run --prompt "What animal is this?" --to telegram:123456 dog.jpg cat.jpg

  # Recognize known people and e-mail the digest with the originals
  camflow run --mode recognize --to email:me@example.com --attach s3://cam/door.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("prompt", "", "Prompt for analyze mode")
	runCmd.Flags().String("mode", string(pipeline.ModeAnalyze), "Pipeline mode: analyze or recognize")
	runCmd.Flags().String("model", "", "Model name from the catalog (defaults to the last used model)")
	runCmd.Flags().String("to", "", "Destination as telegram:<chat id> or email:<address>")
	runCmd.Flags().Bool("attach", false, "Attach the original images")
	runCmd.Flags().Bool("json", false, "Output the session as JSON")
	runCmd.Flags().Duration("poll", 200*time.Millisecond, "How often the task progress is polled")
}

// parseDestination parses "kind:address".
func parseDestination(s string) (delivery.Destination, error) {
	kind, addr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || addr == "" {
		return delivery.Destination{}, fmt.Errorf("%w: expected telegram:<chat id> or email:<address>", delivery.ErrInvalidDestination)
	}
	dest := delivery.Destination{Kind: delivery.Kind(strings.ToLower(kind)), Address: addr}
	if err := dest.Validate(); err != nil {
		return delivery.Destination{}, err
	}
	return dest, nil
}

func parseMode(s string) (pipeline.Mode, error) {
	switch m := pipeline.Mode(strings.ToLower(s)); m {
	case pipeline.ModeAnalyze, pipeline.ModeRecognize:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %s", pipeline.ErrUnknownMode, s)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(mustGetString(cmd, "mode"))
	if err != nil {
		return err
	}
	dest, err := parseDestination(mustGetString(cmd, "to"))
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")
	poll := mustGetDuration(cmd, "poll")
	if poll <= 0 {
		return errors.New("--poll must be positive")
	}

	a, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	id, err := a.runner.Submit(ctx, handoff.TaskSpec{
		ModelName:       mustGetString(cmd, "model"),
		Images:          args,
		Prompt:          mustGetString(cmd, "prompt"),
		Mode:            mode,
		Destination:     dest,
		AttachOriginals: mustGetBool(cmd, "attach"),
	})
	if err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Task "+id[:8]),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionFullWidth(),
	)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var st progress.Status
	for range ticker.C {
		ts, err := a.runner.Status(ctx, id)
		if err != nil {
			return err
		}
		_ = bar.Set(int(ts.Progress * 100))
		if ts.Done() {
			st = ts.Status
			break
		}
	}
	_ = bar.Finish()
	fmt.Println()

	a.runner.Wait()

	if st.State == progress.StateFailed {
		return fmt.Errorf("task failed: %s", st.Reason)
	}
	if st.SessionID == "" {
		return errors.New("task finished without a session")
	}

	session, err := a.sessions.Get(ctx, st.SessionID)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(session)
	}
	printSession(session)
	return nil
}
