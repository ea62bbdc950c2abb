// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/Geek0x0/pdfcore/internal/logging"
	"go.uber.org/zap"
)

// DefaultProtocolTimeout bounds browser startup and each DevTools command.
const DefaultProtocolTimeout = 120 * time.Second

// DefaultChromeArgs are the switches every browser is started with.
var DefaultChromeArgs = []string{
	"--headless=new",
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-gpu",
	"--disable-dev-shm-usage",
	"--no-first-run",
	"--no-default-browser-check",
	"--remote-debugging-port=0",
}

// chromeCandidates are looked up on PATH when no executable is configured.
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

var devToolsRE = regexp.MustCompile(`DevTools listening on (ws://\S+)`)

// ErrChromeNotFound means no browser executable was configured or found.
var ErrChromeNotFound = errors.New("render: chrome executable not found")

// ChromeLauncher starts headless Chrome processes with a private profile
// directory each.
type ChromeLauncher struct {
	// Path is the browser executable. Empty means search PATH.
	Path string
	// Args are appended to DefaultChromeArgs.
	Args []string
	// ProtocolTimeout bounds startup and each DevTools command.
	ProtocolTimeout time.Duration
	Logger          *zap.Logger
}

// FindChrome returns the first browser executable found on PATH.
func FindChrome() (string, error) {
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrChromeNotFound
}

// Launch starts a browser, waits for its DevTools endpoint and connects.
func (l *ChromeLauncher) Launch(ctx context.Context) (Process, error) {
	return l.launch(ctx)
}

func (l *ChromeLauncher) launch(ctx context.Context) (*Browser, error) {
	logger := logging.OrDiscard(l.Logger)
	timeout := l.ProtocolTimeout
	if timeout <= 0 {
		timeout = DefaultProtocolTimeout
	}

	path := l.Path
	if path == "" {
		var err error
		if path, err = FindChrome(); err != nil {
			return nil, err
		}
	}

	dir, err := os.MkdirTemp("", "pdfcore-chrome-*")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	args := make([]string, 0, len(DefaultChromeArgs)+len(l.Args)+2)
	args = append(args, DefaultChromeArgs...)
	args = append(args, l.Args...)
	args = append(args, "--user-data-dir="+dir, "about:blank")

	// A plain pipe instead of cmd.StderrPipe lets Wait run while the
	// browser's helpers still hold stderr open.
	pr, pw, err := os.Pipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd := exec.Command(path, args...)
	cmd.Stderr = pw
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	pw.Close()

	b := &Browser{
		cmd:         cmd,
		userDataDir: dir,
		exited:      make(chan struct{}),
		timeout:     timeout,
		logger:      logger.With(zap.Int("pid", cmd.Process.Pid)),
	}
	go func() {
		b.waitErr = cmd.Wait()
		close(b.exited)
	}()

	urls := make(chan string, 1)
	go scanDevToolsURL(pr, urls)

	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wsURL string
	select {
	case wsURL = <-urls:
	case <-b.exited:
		b.Close()
		return nil, fmt.Errorf("browser exited during startup: %v", b.waitErr)
	case <-startCtx.Done():
		b.Close()
		return nil, fmt.Errorf("waiting for devtools endpoint: %w", startCtx.Err())
	}
	if wsURL == "" {
		b.Close()
		return nil, errors.New("browser closed stderr without a devtools endpoint")
	}

	conn, err := dialCDP(startCtx, wsURL)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.conn = conn
	b.wsURL = wsURL
	b.logger.Debug("browser started", zap.String("devtools", wsURL))
	return b, nil
}

// scanDevToolsURL reports the DevTools endpoint printed on stderr, or ""
// when stderr closes first, then drains the rest so the browser never
// blocks on a full pipe.
func scanDevToolsURL(r io.ReadCloser, urls chan<- string) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sent := false
	for sc.Scan() {
		if sent {
			continue
		}
		if m := devToolsRE.FindStringSubmatch(sc.Text()); m != nil {
			urls <- m[1]
			sent = true
		}
	}
	if !sent {
		urls <- ""
	}
	io.Copy(io.Discard, r)
}
