package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/badger/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control server",
	Long: `Starts the HTTP API for starting, steering and watching runs. Runs
still active on shutdown are stopped and, if saved, archived.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config server_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := settings.ServerAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	archive, err := openArchive()
	if err != nil {
		return err
	}
	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	manager := server.NewRunManager(server.Deps{
		Registry:    registry(),
		Archive:     archive,
		Index:       index,
		AutoRefresh: settings.AutoRefresh,
		DumpPeriod:  settings.DumpPeriod(),
		Logger:      slog.Default(),
	})
	srv := server.NewServer(addr, manager, index)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", addr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigs:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
