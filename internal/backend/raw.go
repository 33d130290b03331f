// Package backend delivers documents to printers over a raw TCP socket
// (AppSocket / JetDirect).
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/core"
	"github.com/orrn/netprint/internal/printer"
)

var (
	ErrBusy             = errors.New("backend is busy")
	ErrConnectionFailed = errors.New("connection failed")
	ErrEmptyDocument    = errors.New("document is empty")
	ErrUnsupported      = errors.New("document format not supported by printer")
)

const chunkSize = 32 * 1024

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// RawSocket implements core.Backend. It transmits one document at a time and
// keeps the document open until CloseDocument.
type RawSocket struct {
	cfg    config.BackendConfig
	logger *zap.Logger
	dial   dialFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doc     *os.File
	wg      sync.WaitGroup
}

var _ core.Backend = (*RawSocket)(nil)

func NewRawSocket(cfg config.BackendConfig, logger *zap.Logger) *RawSocket {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	return &RawSocket{
		cfg:    cfg,
		logger: logger.Named("backend"),
		dial:   dialer.DialContext,
	}
}

// Print starts delivery and returns at once. Problems with the document are
// reported through onStatus as a corrupt result.
func (b *RawSocket) Print(d printer.Descriptor, job core.JobSpec, caps printer.Capabilities, onStatus func(core.BackendStatus)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrBusy
	}
	if b.doc != nil {
		b.logger.Warn("previous document was never closed")
		_ = b.doc.Close()
		b.doc = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.running = true
	b.cancel = cancel

	f, openErr := os.Open(job.Document.Path)
	if openErr == nil {
		b.doc = f
	}

	logger := b.logger.With(zap.String("job_id", job.ID), zap.String("address", d.Address))
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		var st core.BackendStatus
		if openErr != nil {
			st = corrupt(openErr)
		} else {
			st = b.run(ctx, f, d, job, caps, onStatus)
		}
		logger.Info("delivery finished", zap.Int("result", int(st.Result)), zap.Error(st.Err))

		b.mu.Lock()
		b.running = false
		b.cancel = nil
		b.mu.Unlock()
		onStatus(st)
	}()
	return nil
}

// Cancel aborts the delivery in progress, if any.
func (b *RawSocket) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *RawSocket) CloseDocument() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.doc != nil {
		_ = b.doc.Close()
		b.doc = nil
	}
}

// Close aborts any delivery and waits for it to report.
func (b *RawSocket) Close() {
	b.Cancel()
	b.wg.Wait()
	b.CloseDocument()
}

func (b *RawSocket) run(ctx context.Context, f *os.File, d printer.Descriptor, job core.JobSpec, caps printer.Capabilities, onStatus func(core.BackendStatus)) core.BackendStatus {
	info, err := f.Stat()
	if err != nil {
		return corrupt(err)
	}
	if info.Size() == 0 {
		return corrupt(ErrEmptyDocument)
	}
	if mime := job.Document.MimeType; mime != "" && !caps.SupportsFormat(mime) {
		return corrupt(fmt.Errorf("%w: %s", ErrUnsupported, mime))
	}

	conn, st, ok := b.connect(ctx, b.target(d), onStatus)
	if !ok {
		return st
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if b.cfg.StatusQuery == "tspl" {
		if st, ok := b.waitReady(ctx, conn, onStatus); !ok {
			return st
		}
	}

	onStatus(core.BackendStatus{State: core.BackendRunning})

	copies := job.Copies
	if copies < 1 {
		copies = 1
	}
	for i := 0; i < copies; i++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return corrupt(err)
		}
		if err := b.send(conn, f); err != nil {
			if ctx.Err() != nil {
				return cancelled()
			}
			return failed(fmt.Errorf("send copy %d: %w", i+1, err))
		}
	}
	if ctx.Err() != nil {
		return cancelled()
	}
	return core.BackendStatus{State: core.BackendDone, Result: core.ResultOK}
}

// connect retries the dial, reporting the printer as unreachable between
// attempts.
func (b *RawSocket) connect(ctx context.Context, addr string, onStatus func(core.BackendStatus)) (net.Conn, core.BackendStatus, bool) {
	attempts := b.cfg.MaxConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		dctx, cancel := ctx, context.CancelFunc(func() {})
		if b.cfg.DialTimeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, b.cfg.DialTimeout)
		}
		conn, err := b.dial(dctx, "tcp", addr)
		cancel()
		if err == nil {
			return conn, core.BackendStatus{}, true
		}
		if ctx.Err() != nil {
			return nil, cancelled(), false
		}
		b.logger.Debug("connect failed", zap.String("address", addr), zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= attempts {
			return nil, failed(fmt.Errorf("%w: %v", ErrConnectionFailed, err)), false
		}

		onStatus(core.BackendStatus{State: core.BackendBlocked, Blocked: core.BlockedUnableToConnect})
		select {
		case <-ctx.Done():
			return nil, cancelled(), false
		case <-time.After(b.cfg.RetryDelay):
		}
	}
}

// waitReady polls a TSPL printer until nothing blocks it.
func (b *RawSocket) waitReady(ctx context.Context, conn net.Conn, onStatus func(core.BackendStatus)) (core.BackendStatus, bool) {
	timeout := b.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for {
		reason, err := queryTSPLStatus(conn, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(), false
			}
			return failed(err), false
		}
		if reason == 0 {
			return core.BackendStatus{}, true
		}

		onStatus(core.BackendStatus{State: core.BackendBlocked, Blocked: reason})
		select {
		case <-ctx.Done():
			return cancelled(), false
		case <-time.After(b.cfg.RetryDelay):
		}
	}
}

func (b *RawSocket) send(conn net.Conn, r io.Reader) error {
	buf := make([]byte, chunkSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if b.cfg.WriteTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// target prefers a socket:// path from discovery and otherwise uses the
// printer host on the configured port.
func (b *RawSocket) target(d printer.Descriptor) string {
	port := strconv.Itoa(b.cfg.Port)
	if strings.HasPrefix(d.Path, "socket://") {
		if u, err := url.Parse(d.Path); err == nil && u.Host != "" {
			if u.Port() == "" {
				return net.JoinHostPort(u.Hostname(), port)
			}
			return u.Host
		}
	}
	return net.JoinHostPort(d.Host(), port)
}

func corrupt(err error) core.BackendStatus {
	return core.BackendStatus{State: core.BackendDone, Result: core.ResultCorrupt, Err: err}
}

func failed(err error) core.BackendStatus {
	return core.BackendStatus{State: core.BackendDone, Result: core.ResultError, Err: err}
}

func cancelled() core.BackendStatus {
	return core.BackendStatus{State: core.BackendDone, Result: core.ResultCancelled}
}
