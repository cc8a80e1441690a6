package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"text/tabwriter"

	"github.com/kozaktomas/camflow/internal/database"
	"github.com/kozaktomas/camflow/internal/sessionlog"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Browse and prune the session history",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivered sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its analyses",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete one session, or all of them with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)

	sessionsListCmd.Flags().Bool("json", false, "Output as JSON")
	sessionsShowCmd.Flags().Bool("json", false, "Output as JSON")
	sessionsDeleteCmd.Flags().Bool("all", false, "Delete the whole history")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.sessions.List(cmd.Context())
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return json.NewEncoder(os.Stdout).Encode(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tMODE\tMODEL\tIMAGES\tDESTINATION")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Mode, s.Model, len(s.Images), s.Destination)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.sessions.Get(cmd.Context(), args[0])
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("session %s not found", args[0])
	}
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printSession(s)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	all := mustGetBool(cmd, "all")
	if all == (len(args) == 1) {
		return errors.New("provide either a session id or --all")
	}

	a, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if all {
		n, err := a.sessions.DeleteAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d sessions\n", n)
		return nil
	}

	ok, err := a.sessions.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s not found", args[0])
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}

func printSession(s sessionlog.Session) {
	fmt.Printf("Session:     %s\n", s.ID)
	fmt.Printf("Created:     %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Mode:        %s\n", s.Mode)
	if s.Model != "" {
		fmt.Printf("Model:       %s\n", s.Model)
	}
	if s.Prompt != "" {
		fmt.Printf("Prompt:      %s\n", s.Prompt)
	}
	fmt.Printf("Destination: %s\n", s.Destination)
	for i, img := range s.Images {
		text := ""
		if i < len(s.Analyses) {
			text = s.Analyses[i]
		}
		fmt.Printf("\n%d. %s\n   %s\n", i+1, path.Base(img), text)
	}
}
