package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	// Embed the zone database so BANKDESK_AI_TIMEZONE works in minimal images.
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/plugin/ai"
	"github.com/hrygo/bankdesk/server"
	"github.com/hrygo/bankdesk/server/runner/embedding"
	"github.com/hrygo/bankdesk/server/service/catalog"
	"github.com/hrygo/bankdesk/store"
	"github.com/hrygo/bankdesk/store/db"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:   "bankdesk",
		Short: "A banking assistant that keeps per-user sessions and answers with tools.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Manage the product catalog",
	}

	catalogImportCmd = &cobra.Command{
		Use:   "import",
		Short: "Upsert products from a CSV export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCatalogImport(cmd.Context())
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", profile.DriverMemory)
	viper.SetDefault("port", 8081)
	viper.SetDefault("concurrency", catalog.DefaultConcurrency)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", profile.DriverMemory, "storage driver: memory, sqlite or postgres")
	rootCmd.PersistentFlags().String("dsn", "", "database source name")
	rootCmd.PersistentFlags().String("catalog", "", "CSV catalog imported before serving")

	catalogImportCmd.Flags().String("file", "", "CSV file with the product catalog")
	catalogImportCmd.Flags().Int("concurrency", catalog.DefaultConcurrency, "concurrent upserts")
	catalogImportCmd.Flags().Bool("embed", false, "embed imported products right away (postgres only)")
	if err := catalogImportCmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "catalog"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	for _, name := range []string{"file", "concurrency", "embed"} {
		if err := viper.BindPFlag(name, catalogImportCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("bankdesk")
	viper.AutomaticEnv()

	catalogCmd.AddCommand(catalogImportCmd)
	rootCmd.AddCommand(serveCmd, catalogCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version,
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func setupLogger(p *profile.Profile) {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return storeInstance, nil
}

func runServe(ctx context.Context) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	setupLogger(instanceProfile)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return err
	}

	if path := viper.GetString("catalog"); path != "" {
		if _, err := catalog.ImportFile(ctx, storeInstance, path, catalog.DefaultConcurrency); err != nil {
			_ = storeInstance.Close()
			return err
		}
	}

	s, err := server.NewServer(ctx, instanceProfile, storeInstance)
	if err != nil {
		_ = storeInstance.Close()
		slog.Error("failed to create server", "error", err)
		return err
	}

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	// The default signal sent by the `kill` command is SIGTERM,
	// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := s.Start(ctx); err != nil {
		s.Shutdown(ctx)
		return err
	}

	printGreetings(instanceProfile)

	select {
	case <-c:
	case <-ctx.Done():
	}
	s.Shutdown(context.Background())
	return nil
}

func runCatalogImport(ctx context.Context) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	setupLogger(instanceProfile)
	if !instanceProfile.IsDurable() {
		return fmt.Errorf("catalog import needs a durable driver (sqlite or postgres), got %q", instanceProfile.Driver)
	}

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		return err
	}
	defer storeInstance.Close()

	n, err := catalog.ImportFile(ctx, storeInstance, viper.GetString("file"), viper.GetInt("concurrency"))
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d products\n", n)

	if !viper.GetBool("embed") {
		return nil
	}
	if !storeInstance.SupportsVectorSearch() {
		return fmt.Errorf("embedding requires the postgres driver")
	}
	aiConfig := ai.NewConfigFromProfile(instanceProfile)
	if !aiConfig.Enabled {
		return server.ErrAIDisabled
	}
	if err := aiConfig.Validate(); err != nil {
		return fmt.Errorf("invalid AI configuration: %w", err)
	}
	embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return err
	}
	embedded := embedding.NewRunner(storeInstance, embeddingService).RunOnce(ctx)
	fmt.Printf("Embedded %d products\n", embedded)
	return nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("bankdesk %s started successfully!\n", p.Version)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Driver: %s\n", p.Driver)
	if p.IsDurable() {
		fmt.Printf("Database: %s\n", p.DSN)
	}
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
		fmt.Printf("Accessing bankdesk at http://localhost:%d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		fmt.Printf("Accessing bankdesk at http://%s:%d\n", p.Addr, p.Port)
	}
	if !p.IsAIEnabled() {
		fmt.Println("AI is disabled: set BANKDESK_AI_LLM_API_KEY to start sessions")
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
