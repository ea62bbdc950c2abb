// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Geek0x0/pdfcore"
	"github.com/Geek0x0/pdfcore/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newRepairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair IN OUT",
		Short: "Rebuild a damaged cross-reference table and rewrite the file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := a.processor().Repair(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], res.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %s\n", args[0], args[1], summary(res))
			return nil
		},
	}
}

func newOptimizeCmd(a *app) *cobra.Command {
	var outDir, suffix string
	cmd := &cobra.Command{
		Use:   "optimize FILE...",
		Short: "Round long decimals in page content streams",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aggressiveness, err := a.aggressiveness(cmd)
			if err != nil {
				return err
			}
			proc := a.processor()

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(a.cfg.Workers)
			slots := workerSlots("optimize", a.cfg.Workers)
			results := make([]string, len(args))
			for i, path := range args {
				i, path := i, path
				g.Go(func() error {
					jobID := <-slots
					defer func() { slots <- jobID }()

					in, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					res, err := proc.Optimize(ctx, jobID, in, aggressiveness)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					out := outputPath(path, outDir, suffix)
					if err := os.WriteFile(out, res.Data, 0o644); err != nil {
						return err
					}
					a.logger.Info("optimized",
						zap.String("job", jobID),
						zap.String("file", path),
						zap.String("out", out),
						zap.Int("rewritten", res.Simplify.Rewritten),
						zap.Int("skipped", len(res.Simplify.Skipped)))
					results[i] = fmt.Sprintf("%s -> %s: %s", path, out, summary(res))
					return nil
				})
			}
			err = g.Wait()
			for _, line := range results {
				if line != "" {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
			return err
		},
	}
	addAggressivenessFlag(cmd)
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "directory for results (default: next to the input)")
	cmd.Flags().StringVar(&suffix, "suffix", ".optimized", "inserted before the extension of each result")
	return cmd
}

// workerSlots returns n job ids to be checked out by concurrent workers.
// Each id keys one scratch buffer, so the buffer pool holds at most n of
// them no matter how many files a batch has.
func workerSlots(prefix string, n int) chan string {
	slots := make(chan string, n)
	for i := 0; i < n; i++ {
		slots <- fmt.Sprintf("%s-%d", prefix, i)
	}
	return slots
}

func addAggressivenessFlag(cmd *cobra.Command) {
	cmd.Flags().Float64P("aggressiveness", "a", config.Default().Aggressiveness,
		"rounding aggressiveness in [0, 1]; above 0.8 keeps one decimal, else two")
}

// aggressiveness returns the flag value when set, else the configured one.
func (a *app) aggressiveness(cmd *cobra.Command) (float64, error) {
	if !cmd.Flags().Changed("aggressiveness") {
		return a.cfg.Aggressiveness, nil
	}
	v, err := cmd.Flags().GetFloat64("aggressiveness")
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1 {
		return 0, config.ErrInvalidAggressiveness
	}
	return v, nil
}

// outputPath derives the result path for in.
func outputPath(in, dir, suffix string) string {
	ext := filepath.Ext(in)
	base := strings.TrimSuffix(filepath.Base(in), ext) + suffix + ext
	if dir == "" {
		dir = filepath.Dir(in)
	}
	return filepath.Join(dir, base)
}

func summary(res *pdfcore.Result) string {
	s := fmt.Sprintf("%d pages, %d objects, %d -> %d bytes", res.Pages, res.Objects, res.InputSize, res.Size)
	if res.Repaired {
		s += ", xref rebuilt"
	}
	if res.Simplify != nil {
		s += fmt.Sprintf(", %d/%d streams rewritten", res.Simplify.Rewritten, res.Simplify.Streams)
		if n := len(res.Simplify.Skipped); n > 0 {
			s += fmt.Sprintf(", %d skipped", n)
		}
	}
	return s
}
