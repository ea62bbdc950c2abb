// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// shutdownGrace is how long Close waits for a polite exit before killing.
const shutdownGrace = 2 * time.Second

// Printer is a Process that can print a page to PDF.
type Printer interface {
	Process
	PrintToPDF(ctx context.Context, url string, opts PrintOptions) ([]byte, error)
}

// PrintOptions control Page.printToPDF. Zero values use browser defaults.
type PrintOptions struct {
	Landscape       bool    `json:"landscape,omitempty" yaml:"landscape"`
	PrintBackground bool    `json:"printBackground,omitempty" yaml:"print_background"`
	Scale           float64 `json:"scale,omitempty" yaml:"scale"`
	PaperWidth      float64 `json:"paperWidth,omitempty" yaml:"paper_width"`   // inches
	PaperHeight     float64 `json:"paperHeight,omitempty" yaml:"paper_height"` // inches
	MarginTop       float64 `json:"marginTop,omitempty" yaml:"margin_top"`
	MarginBottom    float64 `json:"marginBottom,omitempty" yaml:"margin_bottom"`
	MarginLeft      float64 `json:"marginLeft,omitempty" yaml:"margin_left"`
	MarginRight     float64 `json:"marginRight,omitempty" yaml:"margin_right"`
	PageRanges      string  `json:"pageRanges,omitempty" yaml:"page_ranges"`
}

// Browser is one running headless browser connected over DevTools.
type Browser struct {
	cmd         *exec.Cmd
	conn        *cdpConn
	wsURL       string
	userDataDir string
	timeout     time.Duration
	logger      *zap.Logger

	exited  chan struct{}
	waitErr error // valid after exited is closed

	closeOnce sync.Once
	closeErr  error
}

// Connected reports whether the process is running and its DevTools
// connection is open.
func (b *Browser) Connected() bool {
	select {
	case <-b.exited:
		return false
	default:
	}
	return b.conn != nil && b.conn.alive()
}

// WebSocketURL returns the DevTools endpoint.
func (b *Browser) WebSocketURL() string {
	return b.wsURL
}

// Ping checks the DevTools connection round trip.
func (b *Browser) Ping(ctx context.Context) error {
	if b.conn == nil {
		return errConnClosed
	}
	return b.conn.ping(ctx)
}

// Close asks the browser to exit, kills its process group if it does not,
// and removes its profile directory. It is safe to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.shutdown()
	})
	return b.closeErr
}

func (b *Browser) shutdown() error {
	var errs []error
	if b.conn != nil {
		if b.conn.alive() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			// The browser drops the socket as it exits; the reply may never come.
			_ = b.conn.call(ctx, "", "Browser.close", nil, nil)
			cancel()
		}
		b.conn.close()
	}

	if b.cmd != nil {
		select {
		case <-b.exited:
		case <-time.After(shutdownGrace):
		}
		if err := killProcessGroup(b.cmd); err != nil {
			errs = append(errs, fmt.Errorf("kill browser: %w", err))
		}
		select {
		case <-b.exited:
		case <-time.After(shutdownGrace):
			errs = append(errs, errors.New("browser did not exit after kill"))
		}
	}

	if b.userDataDir != "" {
		if err := os.RemoveAll(b.userDataDir); err != nil {
			errs = append(errs, fmt.Errorf("remove profile dir: %w", err))
		}
	}
	b.logger.Debug("browser closed")
	return errors.Join(errs...)
}

// PrintToPDF opens url in a fresh target, waits for its load event and
// returns the printed document.
func (b *Browser) PrintToPDF(ctx context.Context, url string, opts PrintOptions) ([]byte, error) {
	if b.conn == nil || !b.conn.alive() {
		return nil, errConnClosed
	}
	timeout := b.timeout
	if timeout <= 0 {
		timeout = DefaultProtocolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var target struct {
		TargetID string `json:"targetId"`
	}
	if err := b.conn.call(ctx, "", "Target.createTarget", map[string]any{"url": "about:blank"}, &target); err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := b.conn.call(closeCtx, "", "Target.closeTarget", map[string]any{"targetId": target.TargetID}, nil); err != nil {
			b.logger.Debug("close target failed", zap.String("target", target.TargetID), zap.Error(err))
		}
	}()

	var attach struct {
		SessionID string `json:"sessionId"`
	}
	if err := b.conn.call(ctx, "", "Target.attachToTarget", map[string]any{"targetId": target.TargetID, "flatten": true}, &attach); err != nil {
		return nil, err
	}
	session := attach.SessionID

	if err := b.conn.call(ctx, session, "Page.enable", nil, nil); err != nil {
		return nil, err
	}

	loaded, stopWaiting := b.conn.waitEvent(session, "Page.loadEventFired")
	defer stopWaiting()

	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if err := b.conn.call(ctx, session, "Page.navigate", map[string]any{"url": url}, &nav); err != nil {
		return nil, err
	}
	if nav.ErrorText != "" {
		return nil, fmt.Errorf("navigate %s: %s", url, nav.ErrorText)
	}

	select {
	case <-loaded:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for load of %s: %w", url, ctx.Err())
	case <-b.conn.done:
		return nil, b.conn.err
	}

	var pdf struct {
		Data string `json:"data"`
	}
	if err := b.conn.call(ctx, session, "Page.printToPDF", opts, &pdf); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(pdf.Data)
	if err != nil {
		return nil, fmt.Errorf("decode printed document: %w", err)
	}
	b.logger.Debug("page printed", zap.String("url", url), zap.Int("bytes", len(data)))
	return data, nil
}
