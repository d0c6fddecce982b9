package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BanglaVai/ticketrag/engine/rag"
	"github.com/BanglaVai/ticketrag/pkg/config"
	"github.com/BanglaVai/ticketrag/pkg/natsutil"
)

const smokeQuery = "login problem"

func newInitCmd(a *app) *cobra.Command {
	var (
		force bool
		csv   string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Build the search index from the ticket corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if csv == "" {
				csv = a.cfg.Corpus.Path
			}
			info, err := os.Stat(csv)
			if err != nil {
				return fmt.Errorf("corpus %s: %w", csv, err)
			}
			fmt.Fprintf(a.out, "Corpus: %s (%.1f MB)\n", csv, float64(info.Size())/(1024*1024))

			svc, err := a.buildService(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			current := svc.Stats(cmd.Context()).TotalTickets
			fmt.Fprintf(a.out, "Index currently holds %d tickets\n", current)
			if current > 0 && !force {
				fmt.Fprintln(a.out, "Index already populated, keeping it. Use --force to rebuild.")
				return nil
			}

			fmt.Fprintln(a.out, "Loading tickets...")
			start := time.Now()
			rep, err := svc.InitializeReport(cmd.Context(), csv)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Loaded %d tickets (%d rows dropped, %d batches skipped) in %.1fs\n",
				rep.Inserted, rep.Dropped, rep.SkippedBatches, time.Since(start).Seconds())
			fmt.Fprintf(a.out, "Index saved to %s\n", svc.Stats(cmd.Context()).DatabasePath)

			results := svc.Search(cmd.Context(), smokeQuery, 3)
			if len(results) == 0 {
				fmt.Fprintln(a.out, "Smoke search returned no results")
				return nil
			}
			fmt.Fprintf(a.out, "Smoke search found %d similar tickets\n", len(results))
			printResults(a.out, results[:min(2, len(results))])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild even if the index already holds tickets")
	cmd.Flags().StringVar(&csv, "csv", "", "corpus CSV (default corpus.path)")
	return cmd
}

var errIndexEmpty = errors.New("index is empty, run ticketrag init")

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the index exists, is complete and answers queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Index.Backend != config.BackendQdrant {
				if _, err := os.Stat(a.cfg.Index.Path); err != nil {
					fmt.Fprintf(a.out, "Index directory not found: %s\n", a.cfg.Index.Path)
					return errIndexEmpty
				}
				fmt.Fprintf(a.out, "Index directory: %s\n", a.cfg.Index.Path)
			}

			svc, err := a.buildService(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			st := svc.Stats(cmd.Context())
			if st.Error != "" {
				return fmt.Errorf("stats: %s", st.Error)
			}
			fmt.Fprintf(a.out, "Index size: %.1f MB\n", st.DatabaseSizeMB)
			fmt.Fprintf(a.out, "Tickets: %d\n", st.TotalTickets)
			switch {
			case st.TotalTickets == 0:
				return errIndexEmpty
			case st.TotalTickets < a.cfg.Index.ExpectedTickets:
				fmt.Fprintf(a.out, "Warning: index looks incomplete (expected about %d tickets)\n", a.cfg.Index.ExpectedTickets)
			default:
				fmt.Fprintln(a.out, "Index looks complete")
			}

			results := svc.Search(cmd.Context(), smokeQuery, 2)
			if len(results) == 0 {
				return errors.New("smoke search returned no results")
			}
			fmt.Fprintf(a.out, "Smoke search found %d results\n", len(results))
			printResults(a.out, results)
			return nil
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find tickets similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.buildService(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			results, err := svc.SearchDetailed(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(a.out, "No similar tickets found")
				return nil
			}
			printResults(a.out, results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "max-results", "k", rag.DefaultResults, "maximum results (1-20)")
	return cmd
}

func newReloadCmd(a *app) *cobra.Command {
	var csv string
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running server to rebuild its index over NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.NATS.URL == "" {
				return errors.New("reload needs nats.url")
			}
			nc, err := natsutil.Connect(a.cfg.NATS.URL, "ticketrag-cli", a.logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			reply, err := natsutil.Request[ReloadRequest, ReloadReply](cmd.Context(), nc,
				a.cfg.NATS.ReloadSubject, ReloadRequest{CSVPath: csv}, a.cfg.NATS.RequestTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Reloaded %s from %s: %d tickets (%d dropped) in %.1fs\n",
				reply.Collection, reply.Source, reply.Inserted, reply.Dropped, reply.DurationSec)
			return nil
		},
	}
	cmd.Flags().StringVar(&csv, "csv", "", "corpus CSV as seen by the server (default: its corpus.path)")
	return cmd
}

func printResults(w io.Writer, results []rag.SearchResult) {
	for i, r := range results {
		fmt.Fprintf(w, "  %d. Ticket %s: %s (similarity: %.1f%%)\n", i+1, r.TicketID, r.Subject, r.SimilarityScore*100)
	}
}
