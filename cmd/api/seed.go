package main

import (
	"fmt"
	"os"

	"callbridge/internal/clinic"
	"callbridge/internal/config"

	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import clinic, doctors and services from a YAML file",
		Long:  "Validates the seed file and replaces the clinic, doctors and services collections in the configured store. Appointments are left untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "clinic.yaml", "path to the clinic seed file")
	return cmd
}

func runSeed(cmd *cobra.Command, file string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	cfg, err := config.LoadTooling()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	seed, err := clinic.LoadSeed(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := clinic.NewDirectory(st).Import(ctx, seed); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(out, "Seeded %q into %s store: %d doctors, %d services\n",
		seed.Clinic.Name, cfg.Store.Backend, len(seed.Doctors), len(seed.Services))
	return nil
}
