// Package collector runs the receive loop: read a window from the line,
// decode it, hand the reading to the sinks.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/d21d3q/gosmartmeter/internal/frame"
	"github.com/d21d3q/gosmartmeter/internal/metrics"
	"github.com/d21d3q/gosmartmeter/internal/serialport"
	"github.com/d21d3q/gosmartmeter/internal/sink"
	"github.com/d21d3q/gosmartmeter/pkg/gosmartmeter"
)

// MaxConsecutiveReadErrors stops Run when the line keeps failing.
const MaxConsecutiveReadErrors = 10

// WindowSource yields receive windows. *serialport.Port implements it.
type WindowSource interface {
	ReadWindow(ctx context.Context) ([]byte, error)
}

// Decoder turns a receive window into a result. *gosmartmeter.Pipeline
// implements it.
type Decoder interface {
	Decode(ctx context.Context, raw []byte) (gosmartmeter.Result, error)
}

type Collector struct {
	src      WindowSource
	dec      Decoder
	sink     sink.Sink
	interval int

	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
	now        func() time.Time
}

// New returns a collector decoding every interval-th window. An interval
// below one decodes every window.
func New(src WindowSource, dec Decoder, s sink.Sink, interval int) *Collector {
	if interval < 1 {
		interval = 1
	}
	return &Collector{
		src:        src,
		dec:        dec,
		sink:       s,
		interval:   interval,
		RetryDelay: time.Second,
		now:        time.Now,
	}
}

// Run loops until ctx is cancelled, returning nil, or until
// MaxConsecutiveReadErrors reads in a row fail.
func (c *Collector) Run(ctx context.Context) error {
	var (
		consecutive int
		lastErr     error
		seen        int
	)
	for consecutive < MaxConsecutiveReadErrors {
		window, err := c.src.ReadWindow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, serialport.ErrWindowOverflow) {
				logrus.WithError(err).Warn("receive window discarded")
				metrics.RecordDecodeError(string(gosmartmeter.StageInput), "WindowOverflow")
				continue
			}
			consecutive++
			lastErr = err
			logrus.WithError(err).Warnf("error reading receive window (%d/%d)", consecutive, MaxConsecutiveReadErrors)
			if !sleep(ctx, c.RetryDelay) {
				return nil
			}
			continue
		}
		consecutive = 0

		if len(window) < frame.MinSize {
			logrus.WithField("bytes", len(window)).Debug("ignoring short window")
			continue
		}
		seen++
		if (seen-1)%c.interval != 0 {
			continue
		}
		c.handle(ctx, window)
	}
	return fmt.Errorf("too many consecutive read errors (%d): %w", MaxConsecutiveReadErrors, lastErr)
}

func (c *Collector) handle(ctx context.Context, window []byte) {
	received := c.now()
	result, err := c.dec.Decode(ctx, window)
	if err != nil {
		stage, kind := gosmartmeter.StageOf(err), gosmartmeter.Kind(err)
		metrics.RecordDecodeError(string(stage), kind)
		logrus.WithFields(logrus.Fields{
			"stage": stage,
			"kind":  kind,
			"bytes": len(window),
		}).WithError(err).Warn("failed to decode notification")
		return
	}
	metrics.RecordDecode()
	logrus.WithFields(logrus.Fields{
		"system_title": result.SystemTitle,
		"counter":      result.InvocationCounter,
		"frames":       result.FrameCount,
		"values":       result.Measurements.Len(),
	}).Debug("decoded notification")

	if err := c.sink.Publish(ctx, sink.FromResult(result, received)); err != nil {
		logrus.WithError(err).Warn("failed to publish reading")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
