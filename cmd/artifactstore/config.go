// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package main

import (
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the process configuration, read from the environment.
type Config struct {
	// Address is the listen address of the HTTP server.
	Address string
	// DataPath is the base directory where all data is stored.
	DataPath string
	// DatabasePath is the path of the bolt database file, defaulting to
	// ${DATA_PATH}/metadata.db.
	DatabasePath string
	// ArtifactsPath is the artifact payload directory, defaulting to
	// ${DATA_PATH}/artifacts.
	ArtifactsPath string
}

func loadConfig() Config {
	v := viper.New()
	v.SetDefault("address", ":3001")
	v.SetDefault("data.path", "/data")
	_ = v.BindEnv("address", "ADDRESS")
	_ = v.BindEnv("data.path", "DATA_PATH")
	_ = v.BindEnv("database.path", "BOLTDB_PATH")
	_ = v.BindEnv("artifacts.path", "ARTIFACTS_PATH")

	conf := Config{
		Address:       v.GetString("address"),
		DataPath:      v.GetString("data.path"),
		DatabasePath:  v.GetString("database.path"),
		ArtifactsPath: v.GetString("artifacts.path"),
	}
	if conf.DatabasePath == "" {
		conf.DatabasePath = filepath.Join(conf.DataPath, "metadata.db")
	}
	if conf.ArtifactsPath == "" {
		conf.ArtifactsPath = filepath.Join(conf.DataPath, "artifacts")
	}
	return conf
}
