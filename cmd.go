package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Tutortoise/face-attendance-service/acquisition"
	"github.com/Tutortoise/face-attendance-service/config"
	"github.com/Tutortoise/face-attendance-service/export"
	"github.com/Tutortoise/face-attendance-service/facecache"
	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/pipeline"
	"github.com/Tutortoise/face-attendance-service/scheduler"
	"github.com/Tutortoise/face-attendance-service/state"
	"github.com/Tutortoise/face-attendance-service/store"
	"github.com/Tutortoise/face-attendance-service/stream"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Webcam face recognition attendance service",
	Long: `Attendance recognizes enrolled people in webcam frames, shows them on a
live page and lets operators enroll unknown faces, list users and export
the user table.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	RunE:  runServe,
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect enrolled users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled users",
	Args:  cobra.NoArgs,
	RunE:  runUsersList,
}

var usersExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the user table as csv or xlsx",
	Args:  cobra.NoArgs,
	RunE:  runUsersExport,
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <photo>...",
	Short: "Enroll users from photos, one face per photo, named after the file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEnroll,
}

var (
	exportFormat     string
	exportOut        string
	enrollGender     string
	enrollDepartment string
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	usersExportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Export format: csv or xlsx")
	usersExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default users.<format>)")
	usersCmd.AddCommand(usersListCmd, usersExportCmd)

	enrollCmd.Flags().StringVar(&enrollGender, "gender", "", "Gender stored for every enrolled photo")
	enrollCmd.Flags().StringVar(&enrollDepartment, "department", "", "Department stored for every enrolled photo")

	rootCmd.AddCommand(serveCmd, usersCmd, enrollCmd)
}

func initConfig() {
	// .env file is optional
	_ = godotenv.Load()
}

func openGateway(ctx context.Context, cfg *config.Config) (store.Gateway, error) {
	gw, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN(), cfg.Store.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s gateway: %w", cfg.Store.Driver, err)
	}
	return gw, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	rt, err := newModelRuntime(cfg.Models, cfg.Recognition)
	if err != nil {
		return err
	}
	defer rt.Close()

	engine, err := newEngine(rt.Detector, rt.Embedder, gw, cfg.Recognition)
	if err != nil {
		return err
	}

	shared := state.New()
	cache := facecache.New(gw, cfg.Cache.TTL)
	proc := pipeline.New(cache, engine, shared, cfg.Server.Debug)

	app := &AppState{
		Gateway:        gw,
		Cache:          cache,
		State:          shared,
		Processor:      proc,
		Pools:          rt.pools,
		PushEnabled:    cfg.Server.PushEnabled(),
		PullEnabled:    cfg.Server.PullEnabled(),
		PushIntervalMs: pushIntervalMs(cfg.Scheduler.ProcessingInterval),
	}

	if app.PushEnabled {
		if cfg.Server.PushDispatch == config.DispatchAsync {
			app.Dispatcher = newDispatcher(proc, cfg.Scheduler.QueueCapacity, cfg.Scheduler.Workers)
			if err := app.Dispatcher.Start(ctx); err != nil {
				return err
			}
			defer app.Dispatcher.Stop()
		} else {
			gate, err := scheduler.NewGate(cfg.Scheduler.ThrottleMode, cfg.Scheduler.FrameModulus, cfg.Scheduler.ProcessingInterval)
			if err != nil {
				return err
			}
			app.PushGate = gate
		}
	}

	if app.PullEnabled {
		if err := startCamera(ctx, cfg, app); err != nil {
			return err
		}
	}

	handler, err := NewRouter(app)
	if err != nil {
		return err
	}
	server := newHTTPServer(cfg.Server.Addr(), handler)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("Server starting on %s (mode %s, gateway %s)", server.Addr, cfg.Server.Mode, cfg.Store.Driver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// startCamera opens the configured camera and starts the producer that feeds
// /video_feed. The producer stops with ctx.
func startCamera(ctx context.Context, cfg *config.Config, app *AppState) error {
	var (
		src acquisition.Source
		err error
	)
	switch cfg.Camera.Backend {
	case config.BackendGoCV:
		src, err = acquisition.NewCameraSource(cfg.Camera.Source, cfg.Camera.JPEGQuality)
	default:
		src, err = acquisition.NewFFmpegSource(ctx, cfg.Camera.Source)
	}
	if err != nil {
		return fmt.Errorf("failed to open camera %s: %w", cfg.Camera.Source, err)
	}

	gate, err := scheduler.NewGate(cfg.Scheduler.ThrottleMode, cfg.Scheduler.FrameModulus, cfg.Scheduler.ProcessingInterval)
	if err != nil {
		src.Close()
		return err
	}

	app.Feed = stream.NewBroadcaster()
	app.Producer = &stream.Producer{
		Source:    src,
		Gate:      gate,
		Processor: app.Processor,
		Results:   app.State,
		Out:       app.Feed,
		Quality:   cfg.Camera.JPEGQuality,
	}

	go func() {
		defer src.Close()
		if err := app.Producer.Run(ctx); err != nil {
			log.Printf("Camera stopped: %v", err)
		}
	}()
	return nil
}

func pushIntervalMs(d time.Duration) int {
	if d <= 0 {
		return 200
	}
	return int(d / time.Millisecond)
}

func runUsersList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	users, err := gw.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), MsgNoUsers)
		return nil
	}
	printUsers(cmd.OutOrStdout(), users)
	return nil
}

func printUsers(out io.Writer, users []models.User) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tGENDER\tDEPARTMENT\tADDED")
	fmt.Fprintln(w, "--\t--------\t------\t----------\t-----")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username,
			u.Attributes[models.AttrGender], u.Attributes[models.AttrDepartment],
			u.TimeAdded.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runUsersExport(cmd *cobra.Command, _ []string) error {
	format := strings.ToLower(exportFormat)
	var write func(w io.Writer, t export.Table) error
	switch format {
	case "csv":
		write = export.WriteCSV
	case "xlsx", "excel":
		format = "xlsx"
		write = export.WriteXLSX
	default:
		return fmt.Errorf("unknown export format %q", exportFormat)
	}

	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	table, err := gw.ExportTable(ctx)
	if err != nil {
		return fmt.Errorf("failed to export users: %w", err)
	}
	if table.Empty() {
		return errors.New(MsgNoUsers)
	}

	path := exportOut
	if path == "" {
		path = "users." + format
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, table); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d users to %s\n", len(table.Rows), path)
	return nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	rt, err := newModelRuntime(cfg.Models, cfg.Recognition)
	if err != nil {
		return err
	}
	defer rt.Close()

	enroller := &photoEnroller{detector: rt.Detector, embedder: rt.Embedder, gateway: gw}
	attrs := map[string]string{
		models.AttrGender:     enrollGender,
		models.AttrDepartment: enrollDepartment,
	}

	bar := progressbar.NewOptions(len(args),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var failed []string
	for _, path := range args {
		if ctx.Err() != nil {
			break
		}
		user, err := enroller.EnrollFile(ctx, path, attrs)
		bar.Add(1)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			continue
		}
		log.Printf("Enrolled %s as user %s", user.Username, user.ID)
	}
	bar.Finish()

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d photos failed:\n  %s", len(failed), len(args), strings.Join(failed, "\n  "))
	}
	return nil
}
