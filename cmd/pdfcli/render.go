// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/Geek0x0/pdfcore/render"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		opts     render.PrintOptions
		optimize bool
	)
	cmd := &cobra.Command{
		Use:   "render URL|FILE OUT",
		Short: "Print a web page or local HTML file to PDF with headless Chrome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := pageURL(args[0])
			if err != nil {
				return err
			}
			r := a.renderer()
			defer func() {
				if err := r.Pool().Close(); err != nil {
					a.logger.Warn("closing browser pool failed", zap.Error(err))
				}
			}()

			data, err := r.RenderURL(cmd.Context(), target, opts)
			if err != nil {
				return err
			}
			if optimize {
				aggressiveness, err := a.aggressiveness(cmd)
				if err != nil {
					return err
				}
				res, err := a.processor().Optimize(cmd.Context(), args[1], data, aggressiveness)
				if err != nil {
					return err
				}
				data = res.Data
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %d bytes\n", args[0], args[1], len(data))
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.Landscape, "landscape", false, "landscape orientation")
	f.BoolVar(&opts.PrintBackground, "background", true, "print background graphics")
	f.Float64Var(&opts.Scale, "scale", 0, "page scale (default 1)")
	f.Float64Var(&opts.PaperWidth, "paper-width", 0, "paper width in inches (default 8.5)")
	f.Float64Var(&opts.PaperHeight, "paper-height", 0, "paper height in inches (default 11)")
	f.StringVar(&opts.PageRanges, "pages", "", "page ranges to print, e.g. 1-5, 8")
	f.BoolVar(&optimize, "optimize", false, "run the content optimizer on the result")
	addAggressivenessFlag(cmd)
	return cmd
}

// pageURL turns an existing local path into a file URL and passes anything
// else through.
func pageURL(arg string) (string, error) {
	if u, err := url.Parse(arg); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return arg, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%s is neither a URL nor a readable file: %w", arg, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
