// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Pdfcli repairs, optimizes, inspects and renders PDF documents.
//
// Usage:
//
//	pdfcli inspect file.pdf...
//	pdfcli repair in.pdf out.pdf
//	pdfcli optimize [--aggressiveness 0.9] file.pdf...
//	pdfcli render https://example.com out.pdf
//	pdfcli watch dir --out-dir done
//
// Settings come from flags, PDFCORE_* environment variables, a .env file
// and an optional .pdfcore.yaml, in that order of precedence.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
