// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/artifactstore/artifactstore/artifacts"
	"github.com/artifactstore/artifactstore/metainfo"
	"github.com/artifactstore/artifactstore/server"
	"github.com/artifactstore/artifactstore/storage/boltdb"
	"github.com/artifactstore/artifactstore/storage/filestore"
)

var (
	rootCmd = &cobra.Command{
		Use:   "artifactstore",
		Short: "Artifact Store",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the artifact store server",
		RunE:  cmdRun,
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	conf := loadConfig()
	log.Info("Starting artifact store.",
		zap.String("Database", conf.DatabasePath),
		zap.String("Artifacts", conf.ArtifactsPath),
		zap.String("Address", conf.Address))

	db, err := boltdb.New(log.Named("boltdb"), conf.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	blobs, err := filestore.NewAt(conf.ArtifactsPath)
	if err != nil {
		return err
	}

	service := artifacts.NewService(
		log.Named("artifacts"),
		metainfo.NewService(log.Named("metainfo"), db),
		blobs,
	)

	peer, err := server.New(log.Named("server"), service, server.Config{
		Address: conf.Address,
	})
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, peer.Close()) }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return peer.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
