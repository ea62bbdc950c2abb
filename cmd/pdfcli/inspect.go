// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Geek0x0/pdfcore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type inspectReport struct {
	File      string                   `json:"file" yaml:"file"`
	Size      int                      `json:"size" yaml:"size"`
	Version   string                   `json:"version,omitempty" yaml:"version,omitempty"`
	Pages     int                      `json:"pages" yaml:"pages"`
	Objects   int                      `json:"objects" yaml:"objects"`
	Trailer   map[string]string        `json:"trailer,omitempty" yaml:"trailer,omitempty"`
	NeedsFix  bool                     `json:"needs_repair" yaml:"needs_repair"`
	LoadError string                   `json:"load_error,omitempty" yaml:"load_error,omitempty"`
	Integrity *pdfcore.IntegrityStatus `json:"integrity" yaml:"integrity"`
}

func newInspectCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Report structure and integrity of PDF files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reports := make([]inspectReport, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				reports = append(reports, a.inspect(path, data))
			}
			return writeReports(cmd.OutOrStdout(), format, reports)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json, yaml)")
	return cmd
}

func (a *app) inspect(path string, data []byte) inspectReport {
	r := inspectReport{
		File:      path,
		Size:      len(data),
		Integrity: pdfcore.CheckIntegrity(data),
	}
	doc, err := pdfcore.Load(data, pdfcore.WithLoadLogger(a.logger))
	if err != nil {
		a.logger.Debug("load failed", zap.String("file", path), zap.Error(err))
		r.NeedsFix = true
		r.LoadError = err.Error()
		return r
	}
	r.Version = doc.Version()
	r.Pages = doc.NumPages()
	r.Objects = doc.ObjectCount()
	r.Trailer = doc.Trailer()
	return r
}

func writeReports(w io.Writer, format string, reports []inspectReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		for _, r := range reports {
			fmt.Fprintf(w, "%s: %d bytes\n", r.File, r.Size)
			if r.LoadError != "" {
				fmt.Fprintf(w, "  needs repair: %s\n", r.LoadError)
			} else {
				fmt.Fprintf(w, "  version %s, %d pages, %d objects\n", r.Version, r.Pages, r.Objects)
				keys := make([]string, 0, len(r.Trailer))
				for k := range r.Trailer {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(w, "  /%s %s\n", k, r.Trailer[k])
				}
			}
			for _, issue := range r.Integrity.Issues {
				fmt.Fprintf(w, "  issue: %s\n", issue)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
