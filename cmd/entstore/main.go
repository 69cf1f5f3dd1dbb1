package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"entstore/internal/config"
	"entstore/internal/daos"
	"entstore/internal/logging"
	"entstore/internal/maintenance"
	"entstore/internal/store"
	"entstore/internal/watch"
	"entstore/internal/web"
	"entstore/internal/web/sse"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	dataDir   string
	port      int
	bind      string
	verbosity int
	logFile   string
	noWatch   bool
	schedule  string
)

// descriptors lists every DAO shipped with the daemon, highest version first.
var descriptors = []store.Descriptor{
	daos.SettingsDescriptor,
	daos.NotesDescriptor,
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "entstore",
		Short: "Entstore - embedded entity store daemon",
		Long:  `Entstore manages a file-backed entity store: versioned per-entity schemas, pooled connections and live invalidation events.`,
		RunE:  runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", ".", "Directory holding the store files (or set DATA_DIR env var)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 8480, "HTTP status server port")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "127.0.0.1", "IP address to bind to")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default: entstore.log in the data directory)")
	rootCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Disable watching the store file for external writes")
	rootCmd.Flags().StringVar(&schedule, "maintenance-schedule", "", "Cron schedule for store maintenance (default daily at 04:00)")

	rootCmd.AddCommand(versionsCmd(), checkCmd(), vacuumCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	resolveDataDir()
	if logFile == "" {
		logFile = logging.FilePathForStore(dataDir)
	}
	logging.Setup(verbosity, logFile)

	if bind != "" {
		if ip := net.ParseIP(bind); ip == nil {
			return fmt.Errorf("invalid bind address: %s", bind)
		}
	}

	log.Info().
		Str("version", version).
		Str("data_dir", dataDir).
		Int("port", port).
		Str("bind", bind).
		Msg("Starting entstore")

	mgr, err := openManager()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Store shutdown incomplete")
		}
	}()

	// Probe the highest-versioned DAO before committing to a full boot; a
	// store written by newer code must not be touched further.
	if !mgr.Compatible(descriptors[0]) {
		log.Fatal().Str("dao", descriptors[0].Name).Msg("Store was written by a newer version of entstore")
	}

	settingsDAO, err := mgr.Get(daos.SettingsDescriptor)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve settings")
	}
	settings := settingsDAO.(*daos.Settings)

	notesDAO, err := mgr.Get(daos.NotesDescriptor)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve notes")
	}
	notes := notesDAO.(*daos.Notes)

	// Persisted settings override flag defaults for runtime tunables.
	loader := config.NewLoader(settings)
	if schedule == "" {
		schedule = loader.String("maintenance.schedule", maintenance.DefaultSchedule)
	}

	broker := sse.NewBroker()
	mgr.Subscribe(broker)

	sched := maintenance.New(mgr, schedule)
	if err := sched.Start(); err != nil {
		log.Warn().Err(err).Str("schedule", schedule).Msg("Failed to start maintenance scheduler")
	} else {
		defer sched.Stop()
	}

	if !noWatch {
		watcher, err := watch.New(mgr, mgr.Path())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize store watcher")
		} else if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start store watcher")
		} else {
			defer watcher.Stop()
		}
	}

	server := web.NewServer(mgr, settings, notes, broker, port, bind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Entstore stopped")
	return nil
}

func versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "Show recorded schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolveDataDir()
			logging.Setup(verbosity, "")

			mgr, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			versions := mgr.Versions()
			names := make([]string, 0, len(versions))
			for name := range versions {
				names = append(names, name)
			}
			sort.Strings(names)

			if len(names) == 0 {
				fmt.Println("no schema versions recorded")
				return nil
			}
			for _, name := range names {
				fmt.Printf("%-24s %d\n", name, versions[name])
			}
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that every DAO is compatible with the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolveDataDir()
			logging.Setup(verbosity, "")

			mgr, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			failed := false
			for _, d := range descriptors {
				if mgr.Compatible(d) {
					fmt.Printf("%-24s ok (version %d)\n", d.Name, mgr.Versions()[d.Name])
				} else {
					fmt.Printf("%-24s INCOMPATIBLE\n", d.Name)
					failed = true
				}
			}
			if failed {
				return fmt.Errorf("store is incompatible with this build")
			}
			return nil
		},
	}
}

func vacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the store file to reclaim space",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolveDataDir()
			logging.Setup(verbosity, "")

			mgr, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			if err := mgr.Vacuum(); err != nil {
				return err
			}
			fmt.Println("store vacuumed")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("entstore %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func resolveDataDir() {
	if dataDir == "." {
		if envDir := os.Getenv("DATA_DIR"); envDir != "" {
			dataDir = envDir
		}
	}
}

func openManager() (*store.Manager, error) {
	mgr, err := store.Open(dataDir)
	if err != nil {
		return nil, err
	}
	if err := mgr.Startup(); err != nil {
		mgr.Shutdown()
		return nil, err
	}
	return mgr, nil
}
