package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/limiter"
	"github.com/SmitUplenchwar2687/spotwalk/internal/position"
	"github.com/SmitUplenchwar2687/spotwalk/internal/simulate"
)

func newSimulateCmd(root *rootOptions) *cobra.Command {
	var (
		trackFile  string
		spotsFile  string
		scriptFile string
		speed      float64
		spotIDs    []string
		after      string
		before     string
		serverCD   time.Duration
		outputJSON bool
		al         autologOptions
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a recorded walk through the auto-log controller",
		Long: `Replays a recorded walk on virtual time against a fixed set of spots
and a scripted backend, and reports what the controller would have
logged. Nothing is sent to the real backend.

The script decides each attempt's outcome per spot (success,
rate_limited, failure); without one every attempt succeeds.
--server-cooldown adds the backend's per-spot cooldown on top.

Speed: 0 = instant, 1 = real-time, 10 = 10x`,
		Example: `  spotwalk simulate --track walk.json --spots spots.json
  spotwalk simulate --track walk.json --spots spots.json --script flaky.json --json
  spotwalk simulate --track walk.json --spots spots.json --radius 50 --suppression 5m
  spotwalk simulate --track walk.json --spots spots.json --server-cooldown 5m`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if trackFile == "" {
				return fmt.Errorf("--track is required")
			}
			if spotsFile == "" {
				return fmt.Errorf("--spots is required")
			}

			filter := simulate.Filter{Spots: spotIDs}
			if filter.After, err = parseTimeFlag("after", after); err != nil {
				return err
			}
			if filter.Before, err = parseTimeFlag("before", before); err != nil {
				return err
			}

			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			al.apply(cmd, &cfg.AutoLog)

			track, err := position.LoadTrackFile(trackFile)
			if err != nil {
				return err
			}
			if len(track) == 0 {
				return fmt.Errorf("track %s has no fixes", trackFile)
			}
			spots, err := simulate.LoadSpotsFile(spotsFile, cfg.Registry.LootTTL, track[0].Timestamp)
			if err != nil {
				return err
			}

			opts := []simulate.Option{
				simulate.WithSpeed(speed),
				simulate.WithLootTTL(cfg.Registry.LootTTL),
				simulate.WithFilter(filter),
				simulate.WithLogger(logger),
			}
			var script simulate.Script
			if scriptFile != "" {
				if script, err = simulate.LoadScriptFile(scriptFile); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("server-cooldown") {
				script.Limits.SpotCooldown = serverCD
			}
			opts = append(opts, simulate.WithScript(script))

			sim, err := simulate.New(cfg.AutoLog, track, spots, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			if !outputJSON {
				fmt.Fprintf(out, "Simulating %s (%d fixes, %d spots) at %.0fx speed...\n\n", trackFile, len(track), len(spots), speed)
			}

			var events []autolog.Event
			summary, err := sim.Run(ctx, func(ev autolog.Event) {
				if outputJSON {
					events = append(events, ev)
					return
				}
				printEvent(out, ev)
			})
			if err != nil && summary == nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(map[string]any{
					"events":  events,
					"summary": summary,
				}); encErr != nil {
					return encErr
				}
				return err
			}

			printSummary(out, summary)
			return err
		},
	}

	cmd.Flags().StringVar(&trackFile, "track", "", "path to recorded track JSON file (required)")
	cmd.Flags().StringVar(&spotsFile, "spots", "", "path to spots JSON file (required)")
	cmd.Flags().StringVar(&scriptFile, "script", "", "path to outcome script JSON file")
	cmd.Flags().Float64Var(&speed, "speed", 0, "simulation speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&spotIDs, "only", nil, "only consider these spot ids (comma-separated)")
	cmd.Flags().DurationVar(&serverCD, "server-cooldown", limiter.DefaultSpotCooldown, "model the backend's per-spot cooldown (0 disables)")
	cmd.Flags().StringVar(&after, "after", "", "only replay fixes after this RFC 3339 time")
	cmd.Flags().StringVar(&before, "before", "", "only replay fixes before this RFC 3339 time")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output events and summary as JSON")
	al.addFlags(cmd)

	return cmd
}

func printEvent(w io.Writer, ev autolog.Event) {
	ts := ev.Time.Format("15:04:05")
	switch ev.Type {
	case autolog.EventLogSucceeded:
		if ev.Reward != nil {
			fmt.Fprintf(w, "  [LOG ] %s spot=%s +%d XP +%d claims (%.1f m)\n",
				ts, ev.TargetID, ev.Reward.XPGained, ev.Reward.ClaimPoints, ev.Reward.Distance)
			return
		}
		fmt.Fprintf(w, "  [LOG ] %s spot=%s\n", ts, ev.TargetID)
	default:
		fmt.Fprintf(w, "  [FAIL] %s spot=%s %s\n", ts, ev.TargetID, ev.Reason)
	}
}

func printSummary(w io.Writer, summary *simulate.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "--- Simulation Summary ---")
	fmt.Fprintf(w, "  Fixes:          %d\n", summary.Fixes)
	fmt.Fprintf(w, "  Spots:          %d\n", summary.Spots)
	fmt.Fprintf(w, "  Ticks:          %d (%d skipped)\n", summary.Ticks, summary.SkippedTicks)
	fmt.Fprintf(w, "  Attempts:       %d\n", summary.Attempts)
	fmt.Fprintf(w, "  Logged:         %d\n", summary.Succeeded)
	fmt.Fprintf(w, "  Rate limited:   %d\n", summary.RateLimited)
	fmt.Fprintf(w, "  Failed:         %d\n", summary.Failed)
	fmt.Fprintf(w, "  XP gained:      %d\n", summary.XPGained)
	fmt.Fprintf(w, "  Claim points:   %d\n", summary.ClaimPoints)
	fmt.Fprintf(w, "  Virtual time:   %s\n", summary.Duration)
	fmt.Fprintf(w, "  Wall time:      %s\n", summary.WallDuration.Round(time.Millisecond))

	if len(summary.PerSpot) > 0 {
		ids := make([]string, 0, len(summary.PerSpot))
		for id := range summary.PerSpot {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Per spot:")
		for _, id := range ids {
			ss := summary.PerSpot[id]
			first := "-"
			if !ss.FirstLogged.IsZero() {
				first = ss.FirstLogged.Format("15:04:05")
			}
			fmt.Fprintf(w, "    %s: %d attempts, %d logged, %d failed, first at %s\n",
				id, ss.Attempts, ss.Succeeded, ss.Failed, first)
		}
	}

	if summary.RateLimited > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintf(w, "Rate limited %d times; %d ticks spent in cooldown\n", summary.RateLimited, summary.SkippedTicks)
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q: %w", name, value, err)
	}
	return t, nil
}
