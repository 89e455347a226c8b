package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"drivefs/internal/contentserver"
	"drivefs/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local contents service",
	Long: `Runs a contents service backed by a SQLite file.

Drive paths under --root (default /drive) map to the store root. Use it as
the --base-url of mount, ls, cat, stat and seed.

Examples:
  drivefs serve
  drivefs serve --db ./contents.db --listen 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveDB     string
	serveListen string
	serveRoot   string
)

const shutdownTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database file (default from settings)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (default from settings)")
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "Drive path served as the store root (default from settings mountpoint)")
}

func runServe(cmd *cobra.Command, args []string) error {
	dbPath := serveDB
	if dbPath == "" {
		dbPath = settings.ServerDBPath()
	}
	listen := serveListen
	if listen == "" {
		listen = settings.ServerListen
	}
	root := serveRoot
	if root == "" {
		root = settings.Mountpoint
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	defer store.Close()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}

	srv := &http.Server{
		Handler: contentserver.New(contentserver.Config{
			Store: store,
			Root:  root,
			Token: settings.Token,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	fmt.Printf("Serving %s at http://%s/ (store: %s)\n", root, ln.Addr(), dbPath)
	log.Infof("[Serve] listening on %s, db %s", ln.Addr(), dbPath)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
