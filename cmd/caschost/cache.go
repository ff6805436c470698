package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"caschost-go/internal/host"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the content cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, _ := cmd.Flags().GetBool("deleted")

		a, err := newApp(cmd, "cache-list")
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.Entries(cmd.Context())
		if err != nil {
			return err
		}

		var out []host.StoredEntry
		for _, r := range rows {
			if !deleted || !r.Active() {
				out = append(out, r)
			}
		}
		if len(out) == 0 {
			fmt.Println("No entries.")
			return nil
		}

		if term.IsTerminal(int(os.Stdout.Fd())) {
			return writeTable(os.Stdout, out)
		}
		return writeTSV(os.Stdout, out)
	},
}

func purgeColumn(r host.StoredEntry) string {
	if r.Active() {
		return "-"
	}
	return r.PurgeAt.Format(time.RFC3339)
}

func writeTable(w io.Writer, rows []host.StoredEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tID\tCKEY\tEKEY\tPURGE AT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			r.Path, r.FileDataID, r.ContentKey.String()[:12], r.EncodedKey.String()[:12], purgeColumn(r))
	}
	return tw.Flush()
}

func writeTSV(w io.Writer, rows []host.StoredEntry) error {
	for _, r := range rows {
		_, err := fmt.Fprintf(w, "%s\t%d\t%016x\t%s\t%s\t%s\n",
			r.Path, r.FileDataID, r.NameHash, r.ContentKey, r.EncodedKey, purgeColumn(r))
		if err != nil {
			return err
		}
	}
	return nil
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the content cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "cache-stats")
		if err != nil {
			return err
		}
		defer a.Close()

		if cmd.Flags().Changed("id") {
			id, _ := cmd.Flags().GetUint32("id")
			used, err := a.HasFileDataID(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("File data id %d in use: %t\n", id, used)
			return nil
		}

		s, err := a.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Store:             %s\n", s.StorePath)
		fmt.Printf("Active entries:    %d\n", s.Active)
		fmt.Printf("Soft-deleted:      %d\n", s.SoftDeleted)
		fmt.Printf("Max file data id:  %d\n", s.MaxFileDataID)
		fmt.Printf("Version:           %s\n", s.State.VersionTag)
		fmt.Printf("Source print:      %s\n", s.State.Fingerprints.Source)
		fmt.Printf("Output print:      %s\n", s.State.Fingerprints.Output)
		fmt.Printf("Purge candidates:  %d\n", len(s.PurgeCandidates))
		for _, p := range s.PurgeCandidates {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}
