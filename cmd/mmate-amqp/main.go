package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	mmate "github.com/glimte/mmate-amqp"
	"github.com/glimte/mmate-amqp/config"
	"github.com/glimte/mmate-amqp/health"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// profileEnv overrides the profile selected in the config file
const profileEnv = "MMATE_AMQP_PROFILE"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mmate-amqp",
		Short: "Declare, publish and consume through resilient AMQP sessions",
		Long: `mmate-amqp opens a session for one exchange and queue, declares the topology
and publishes or consumes through it. Connection settings come from a YAML profile file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	var (
		configPath string
		profile    string
		exchange   string
		queue      string
		routing    []string
		retries    int
		verbose    bool
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML profile file")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Profile to use (default: the file's active profile, or $"+profileEnv+")")
	rootCmd.PersistentFlags().StringVarP(&exchange, "exchange", "e", "", "Exchange name")
	rootCmd.PersistentFlags().StringVarP(&queue, "queue", "q", "", "Queue name")
	rootCmd.PersistentFlags().StringSliceVarP(&routing, "routing", "r", nil, "Routing keys binding the queue to the exchange")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 1, "Retries after a connection failure")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	newClient := func() (*mmate.Client, error) {
		props, err := loadProperties(configPath, profile)
		if err != nil {
			return nil, err
		}

		var opts []config.Option
		if exchange != "" {
			opts = append(opts, config.WithExchange(exchange))
		}
		if queue != "" {
			opts = append(opts, config.WithQueue(queue))
		}
		props = config.Merge(props, opts...)
		for _, key := range routing {
			props = config.Merge(props, config.WithBinding(props.Queue, key))
		}

		return mmate.NewClient(props,
			mmate.WithLogger(newLogger(verbose)),
			mmate.WithRetries(retries),
		)
	}

	// Declare command
	declareCmd := &cobra.Command{
		Use:   "declare",
		Short: "Declare the exchange, queue and bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			s, err := client.Session(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to declare: %w", err)
			}

			info := s.Queue()
			fmt.Printf("exchange:  %s\n", s.Key().Exchange)
			fmt.Printf("queue:     %s\n", info.Name)
			fmt.Printf("messages:  %d\n", info.Messages)
			fmt.Printf("consumers: %d\n", info.Consumers)
			return nil
		},
	}

	// Publish command
	var contentType string
	publishCmd := &cobra.Command{
		Use:   "publish <routing-key> <body>",
		Short: "Publish a message to the exchange",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			err = client.Publish(cmd.Context(), args[0], amqp.Publishing{
				ContentType:  contentType,
				DeliveryMode: amqp.Persistent,
				Body:         []byte(args[1]),
			})
			if err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}

			fmt.Printf("published with routing key %s\n", args[0])
			return nil
		},
	}
	publishCmd.Flags().StringVar(&contentType, "content-type", "text/plain", "Message content type")

	// Consume command
	var (
		persistent bool
		requeue    bool
	)
	consumeCmd := &cobra.Command{
		Use:   "consume",
		Short: "Print and acknowledge messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			s, err := client.Session(ctx, config.WithPersistent(persistent))
			if err != nil {
				return fmt.Errorf("failed to open session: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Consuming from %s... Press Ctrl+C to stop\n", s.Key().Queue)

			return s.Consume(ctx, func(_ context.Context, d amqp.Delivery) error {
				if _, err := fmt.Printf("[%s] %s\n", d.RoutingKey, d.Body); err != nil {
					return s.Reject(d, requeue)
				}
				return s.Acknowledge(d)
			})
		},
	}
	consumeCmd.Flags().BoolVar(&persistent, "persistent", true, "Consume even when the queue had no consumers")
	consumeCmd.Flags().BoolVar(&requeue, "requeue", true, "Requeue messages that cannot be printed")

	// Profiles command
	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the profiles in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			profiles, err := config.LoadProfilesFile(configPath)
			if err != nil {
				return err
			}

			active := selectProfile(profiles, profile)
			for _, name := range profiles.Names() {
				marker := " "
				if name == active {
					marker = "*"
				}
				p := profiles.Profiles[name]
				fmt.Printf("%s %-20s %s exchange=%s queue=%s\n", marker, name, p.Address(), p.Exchange, p.Queue)
			}
			return nil
		},
	}

	// Health command
	var warnThreshold int
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check the session and the depth of its queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			report := client.Health(cmd.Context(), warnThreshold)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			if report.Status == health.StatusUnhealthy {
				return fmt.Errorf("status is %s", report.Status)
			}
			return nil
		},
	}
	healthCmd.Flags().IntVar(&warnThreshold, "warn-threshold", 1000, "Report degraded above this many messages (0 disables)")

	rootCmd.AddCommand(declareCmd, publishCmd, consumeCmd, profilesCmd, healthCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadProperties(path, profile string) (config.Properties, error) {
	if path == "" {
		return config.Defaults(), nil
	}

	profiles, err := config.LoadProfilesFile(path)
	if err != nil {
		return config.Properties{}, err
	}
	return profiles.Profile(selectProfile(profiles, profile))
}

// selectProfile prefers the flag, then the environment, then the file
func selectProfile(profiles config.Profiles, flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(profileEnv); env != "" {
		return env
	}
	if profiles.Use != "" {
		return profiles.Use
	}
	return config.DefaultProfile
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
