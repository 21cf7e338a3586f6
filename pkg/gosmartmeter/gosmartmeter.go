package gosmartmeter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/d21d3q/gosmartmeter/internal/cosem"
	"github.com/d21d3q/gosmartmeter/internal/crypto"
	"github.com/d21d3q/gosmartmeter/internal/driver"
	"github.com/d21d3q/gosmartmeter/internal/frame"
	internalopts "github.com/d21d3q/gosmartmeter/internal/options"
)

// Result captures one decoded receive window.
type Result struct {
	Profile           string
	RawHex            string
	ByteCount         int
	FrameCount        int
	SystemTitle       string
	InvocationCounter uint32
	// NotificationTime is the date-time of the notification header, zero
	// when the meter left it unspecified.
	NotificationTime time.Time
	Measurements     MeasurementSet
}

// String renders a human-readable representation of the result.
func (r Result) String() string {
	summary := map[string]any{
		"profile":            r.Profile,
		"byte_count":         r.ByteCount,
		"frame_count":        r.FrameCount,
		"system_title":       r.SystemTitle,
		"invocation_counter": r.InvocationCounter,
	}
	if !r.NotificationTime.IsZero() {
		summary["notification_time"] = r.NotificationTime.Format(time.RFC3339)
	}
	if r.Measurements.Len() > 0 {
		summary["measurements"] = r.Measurements.Map()
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Sprintf("profile: %s bytes:%d (marshal error: %v)", r.Profile, r.ByteCount, err)
	}
	return string(data)
}

// Pipeline decodes receive windows with a fixed key and profile. It holds no
// per-window state apart from the optional replay guard, so one Pipeline may
// be shared by goroutines.
type Pipeline struct {
	drv      driver.Driver
	key      []byte
	checksum bool
	guard    *ReplayGuard
}

// NewPipeline validates opts and resolves the meter profile.
func NewPipeline(opts Options) (*Pipeline, error) {
	key, err := opts.key()
	if err != nil {
		return nil, stageError(StageInput, err)
	}
	drv, err := driver.Lookup(opts.profile())
	if err != nil {
		return nil, stageError(StageInput, err)
	}
	return &Pipeline{drv: drv, key: key, checksum: opts.VerifyChecksum, guard: opts.Guard}, nil
}

// Profile returns the name of the selected meter profile.
func (p *Pipeline) Profile() string { return p.drv.Name() }

// Decode runs frame assembly, decryption and value decoding on one receive
// window. When the pipeline has no key, a key stored in ctx with
// options.WithSecurityKey is used. Errors are *DecodeError values; no
// measurements are returned alongside an error.
func (p *Pipeline) Decode(ctx context.Context, raw []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, stageError(StageInput, err)
	}
	var frameOpts []frame.AssembleOption
	if p.checksum {
		frameOpts = append(frameOpts, frame.WithChecksum())
	}
	frames, err := frame.Split(raw, frameOpts...)
	if err != nil {
		return Result{}, stageError(StageFrame, err)
	}
	if len(frames) == 0 {
		return Result{}, stageError(StageFrame, fmt.Errorf("%w (%d bytes)", frame.ErrNoFrame, len(raw)))
	}

	key := p.key
	if len(key) == 0 {
		key = internalopts.SecurityKey(ctx)
	}
	pt, err := crypto.Decrypt(frame.Join(frames), key, p.drv.Layout())
	if err != nil {
		return Result{}, stageError(StageCrypto, err)
	}
	title := pt.Context.SystemTitle()
	if p.guard != nil {
		if err := p.guard.Observe(title, pt.Context.InvocationCounter); err != nil {
			return Result{}, stageError(StageReplay, err)
		}
	}

	ms, err := p.drv.Process(ctx, pt)
	if err != nil {
		return Result{}, stageError(StageCosem, err)
	}

	result := Result{
		Profile:           p.drv.Name(),
		RawHex:            strings.ToUpper(hex.EncodeToString(raw)),
		ByteCount:         len(raw),
		FrameCount:        len(frames),
		SystemTitle:       title,
		InvocationCounter: pt.Context.InvocationCounter,
		Measurements:      NewMeasurementSet(ms),
	}
	if h, _, err := cosem.ParseHeader(pt.Data); err == nil {
		if at, err := h.Time(); err == nil {
			result.NotificationTime = at
		}
	}
	return result, nil
}

// Decode is a one-shot helper around NewPipeline and Pipeline.Decode.
func Decode(ctx context.Context, raw []byte, opts Options) (Result, error) {
	p, err := NewPipeline(opts)
	if err != nil {
		return Result{}, err
	}
	return p.Decode(ctx, raw)
}

// DecodeHex accepts the window as hex text. Whitespace, '|' and '_' are
// ignored, as is a leading 0x.
func DecodeHex(ctx context.Context, raw string, opts Options) (Result, error) {
	data, err := ParseHex(raw)
	if err != nil {
		return Result{}, stageError(StageInput, err)
	}
	return Decode(ctx, data, opts)
}

// ParseHex decodes a window written as hex text, with the same leniency as
// DecodeHex.
func ParseHex(input string) ([]byte, error) {
	clean := strings.ToUpper(stripWhitespace(input))
	clean = strings.TrimPrefix(clean, "0X")
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("hex telegram must contain an even number of digits, got %d", len(clean))
	}
	decoded := make([]byte, len(clean)/2)
	if _, err := hex.Decode(decoded, []byte(clean)); err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return decoded, nil
}

func stripWhitespace(s string) string {
	builder := strings.Builder{}
	builder.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '|' || r == '_' {
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
