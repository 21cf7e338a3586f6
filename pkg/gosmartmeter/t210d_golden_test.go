package gosmartmeter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/d21d3q/gosmartmeter/internal/testutil"
)

type goldenResult struct {
	Profile           string         `json:"profile"`
	FrameCount        int            `json:"frame_count"`
	SystemTitle       string         `json:"system_title"`
	InvocationCounter uint32         `json:"invocation_counter"`
	NotificationTime  time.Time      `json:"notification_time"`
	Measurements      map[string]any `json:"measurements"`
}

func TestT210DGolden(t *testing.T) {
	hexStr := testutil.LoadHex(t, "t210d/notification.hex")
	keyHex := testutil.LoadHex(t, "t210d/key.hex")
	var expected goldenResult
	testutil.LoadJSON(t, "t210d/notification.json", &expected)

	result, err := DecodeHex(context.Background(), hexStr, Options{KeyHex: keyHex, VerifyChecksum: true})
	require.NoError(t, err)
	require.Equal(t, expected.Profile, result.Profile)
	require.Equal(t, expected.FrameCount, result.FrameCount)
	require.Equal(t, expected.SystemTitle, result.SystemTitle)
	require.Equal(t, expected.InvocationCounter, result.InvocationCounter)
	require.True(t, expected.NotificationTime.Equal(result.NotificationTime))
	require.Equal(t, expected.Measurements, result.Measurements.Map())

	// The fixture carries one power-factor element that no kind covers.
	require.Equal(t, len(expected.Measurements), result.Measurements.Len())

	ts, err := result.Measurements.Text(Timestamp)
	require.NoError(t, err)
	require.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`, ts)
	energy, err := result.Measurements.Float(ActiveEnergyPlus)
	require.NoError(t, err)
	require.Equal(t, 5123456.0, energy)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.String()), &summary))
	require.Equal(t, "534147670000A1B2", summary["system_title"])
}

func TestT210DTamperedCiphertext(t *testing.T) {
	raw := testutil.LoadBytes(t, "t210d/notification.hex")
	keyHex := testutil.LoadHex(t, "t210d/key.hex")
	// Frame header 7 bytes, ciphering header 19 bytes.
	for _, pos := range []int{26, 100, 270, len(raw) - 3} {
		tampered := append([]byte(nil), raw...)
		tampered[pos] ^= 0x01
		result, err := Decode(context.Background(), tampered, Options{KeyHex: keyHex})
		require.ErrorIs(t, err, ErrAuthenticationFailed, "pos %d", pos)
		require.Equal(t, StageCrypto, StageOf(err))
		require.Zero(t, result.Measurements.Len())
	}
}

func TestT210DBadSecondFrameStart(t *testing.T) {
	raw := testutil.LoadBytes(t, "t210d/notification.hex")
	keyHex := testutil.LoadHex(t, "t210d/key.hex")
	raw[256] = 0x69
	result, err := Decode(context.Background(), raw, Options{KeyHex: keyHex})
	require.ErrorIs(t, err, ErrInvalidStart)
	require.Equal(t, "InvalidStart", Kind(err))
	require.Equal(t, StageFrame, StageOf(err))
	require.Zero(t, result.Measurements.Len())
}

func TestT210DChecksum(t *testing.T) {
	raw := testutil.LoadBytes(t, "t210d/notification.hex")
	keyHex := testutil.LoadHex(t, "t210d/key.hex")
	raw[254]++

	_, err := Decode(context.Background(), raw, Options{KeyHex: keyHex})
	require.NoError(t, err, "checksum is ignored by default")

	_, err = Decode(context.Background(), raw, Options{KeyHex: keyHex, VerifyChecksum: true})
	require.ErrorIs(t, err, ErrChecksum)
	require.Equal(t, "Checksum", Kind(err))
}

func TestT210DTruncatedWindow(t *testing.T) {
	raw := testutil.LoadBytes(t, "t210d/notification.hex")
	keyHex := testutil.LoadHex(t, "t210d/key.hex")
	for _, n := range []int{9, 100, 255, 256, 300, len(raw) - 1} {
		result, err := Decode(context.Background(), raw[:n], Options{KeyHex: keyHex})
		require.Error(t, err, "n=%d", n)
		require.Zero(t, result.Measurements.Len())
	}
}
