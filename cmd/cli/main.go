package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/alerts"
	"github.com/sigaire/pushalerts/internal/app"
	"github.com/sigaire/pushalerts/internal/config"
	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/logging"
	"github.com/sigaire/pushalerts/internal/push"
	"github.com/sigaire/pushalerts/internal/scheduler"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pushalerts",
		Short:        "Operator tools for the weather push alert service",
		SilenceUsage: true,
	}
	root.AddCommand(dispatchCmd(), conditionsCmd(), subscriptionsCmd(), vapidKeysCmd())
	return root
}

func setup() (config.Config, *zap.Logger, error) {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	return cfg, logger, err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dispatchCmd() *cobra.Command {
	var test bool
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one alert dispatch pass against the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			backend, err := app.OpenBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			d, err := app.Dispatcher(cfg, logger, backend, app.Weather(cfg, logger))
			if err != nil {
				return err
			}
			run, err := d.Dispatch(ctx, scheduler.DispatchOptions{TestMode: test})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"ok": true, "run_id": run.ID, "total": len(run.Results), "pruned": run.Pruned, "results": run.Results})
		},
	}
	cmd.Flags().BoolVar(&test, "test", false, "also send the test alert")
	return cmd
}

func conditionsCmd() *cobra.Command {
	var lat, lon, city string
	cmd := &cobra.Command{
		Use:   "conditions",
		Short: "Show rain probability, AQI and the alerts they would trigger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			loc := domain.Location{Lat: domain.ParseCoord(lat), Lon: domain.ParseCoord(lon), City: city}
			if !loc.HasCoords() && loc.City == "" {
				return fmt.Errorf("give --lat and --lon, or --city")
			}
			c := app.Weather(cfg, logger).Conditions(cmd.Context(), loc)
			return printJSON(map[string]any{
				"conditions": c,
				"alerts":     alerts.Decide(c, alerts.Options{}),
			})
		},
	}
	cmd.Flags().StringVar(&lat, "lat", "", "latitude")
	cmd.Flags().StringVar(&lon, "lon", "", "longitude")
	cmd.Flags().StringVar(&city, "city", "", "city name to geocode when coordinates are missing")
	return cmd
}

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Inspect stored subscriptions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List indexed subscriptions and whether they are deliverable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			backend, err := app.OpenBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()
			return listSubscriptions(ctx, backend)
		},
	})
	return cmd
}

type lister interface {
	ListIDs(ctx context.Context) ([]domain.SubscriptionID, error)
	Get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error)
}

func listSubscriptions(ctx context.Context, st lister) error {
	ids, err := st.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		sub, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		where := "-"
		if sub != nil {
			switch {
			case sub.Location.HasCoords():
				where = domain.FormatCoord(sub.Location.Lat) + "," + domain.FormatCoord(sub.Location.Lon)
			case sub.Location.City != "":
				where = strconv.Quote(sub.Location.City)
			}
		}
		fmt.Printf("%s\tvalid=%t\t%s\n", id, sub.Valid(), where)
	}
	fmt.Printf("%d subscription(s)\n", len(ids))
	return nil
}

func vapidKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for VAPID_PUBLIC_KEY / VAPID_PRIVATE_KEY",
		RunE: func(*cobra.Command, []string) error {
			pub, priv, err := push.GenerateKeys()
			if err != nil {
				return err
			}
			fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
			return nil
		},
	}
}
