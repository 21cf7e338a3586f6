package gosmartmeter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	internalopts "github.com/d21d3q/gosmartmeter/internal/options"
	"github.com/d21d3q/gosmartmeter/internal/testutil"
)

const testKeyHex = "000102030405060708090A0B0C0D0E0F"

func TestDecodeHex(t *testing.T) {
	raw := " |68FA_FA68 53FF| "
	data, err := ParseHex(raw)
	require.NoError(t, err)
	require.Len(t, data, 6)

	data, err = ParseHex("0x68fa")
	require.NoError(t, err)
	require.Equal(t, []byte{0x68, 0xFA}, data)
}

func TestDecodeHexOddLength(t *testing.T) {
	_, err := ParseHex("ABC")
	require.Error(t, err)

	_, err = DecodeHex(context.Background(), "ABC", Options{KeyHex: testKeyHex})
	require.Equal(t, StageInput, StageOf(err))
}

func TestDecodeVoltageScaling(t *testing.T) {
	raw, err := Encode([]Measurement{{Kind: VoltageL1, Value: 230.0}}, EncodeOptions{
		KeyHex:            testKeyHex,
		InvocationCounter: 7,
		Time:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	result, err := Decode(context.Background(), raw, Options{KeyHex: testKeyHex})
	require.NoError(t, err)
	v, err := result.Measurements.Float(VoltageL1)
	require.NoError(t, err)
	require.Equal(t, 230.0, v)
	require.Equal(t, uint32(7), result.InvocationCounter)
	require.Equal(t, "5341471030700001", result.SystemTitle)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), result.NotificationTime)
}

func TestEncodeDecodeAllKinds(t *testing.T) {
	in := []Measurement{
		{Kind: Timestamp, Text: "2025-06-01T08:09:10Z"},
		{Kind: DeviceName, Text: "SAG1030700099999"},
		{Kind: SerialNumber, Text: "99999"},
		{Kind: VoltageL1, Value: 231.4},
		{Kind: VoltageL2, Value: 229.9},
		{Kind: VoltageL3, Value: 0},
		{Kind: CurrentL1, Value: 12.34},
		{Kind: CurrentL2, Value: 0.5},
		{Kind: CurrentL3, Value: 0.01},
		{Kind: ActivePowerPlus, Value: 3456},
		{Kind: ActivePowerMinus, Value: 0},
		{Kind: ActiveEnergyPlus, Value: 4294967295},
		{Kind: ActiveEnergyMinus, Value: 1},
		{Kind: ReactiveEnergyPlus, Value: 100},
		{Kind: ReactiveEnergyMinus, Value: 200},
	}
	raw, err := Encode(in, EncodeOptions{KeyHex: testKeyHex, InvocationCounter: 99})
	require.NoError(t, err)

	result, err := Decode(context.Background(), raw, Options{KeyHex: testKeyHex, VerifyChecksum: true})
	require.NoError(t, err)
	require.Equal(t, 2, result.FrameCount)
	require.Equal(t, NewMeasurementSet(in).Map(), result.Measurements.Map())
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	_, err := Encode([]Measurement{{Kind: VoltageL1, Value: 7000}}, EncodeOptions{KeyHex: testKeyHex})
	require.Error(t, err)
	_, err = Encode([]Measurement{{Kind: ActiveEnergyPlus, Value: -1}}, EncodeOptions{KeyHex: testKeyHex})
	require.Error(t, err)
	_, err = Encode([]Measurement{{Kind: Timestamp, Text: "yesterday"}}, EncodeOptions{KeyHex: testKeyHex})
	require.Error(t, err)
	_, err = Encode(nil, EncodeOptions{})
	require.ErrorIs(t, err, ErrKeyRequired)
}

func TestDecodeOptionsErrors(t *testing.T) {
	raw := testutil.LoadBytes(t, "t210d/notification.hex")
	ctx := context.Background()

	_, err := Decode(ctx, raw, Options{})
	require.ErrorIs(t, err, ErrKeyRequired)
	require.Equal(t, "KeyRequired", Kind(err))

	_, err = Decode(ctx, raw, Options{KeyHex: "0011"})
	require.Equal(t, StageInput, StageOf(err))

	_, err = Decode(ctx, raw, Options{KeyHex: testKeyHex, Profile: "e450"})
	require.ErrorIs(t, err, ErrUnknownProfile)
	require.Equal(t, "UnknownProfile", Kind(err))

	_, err = Decode(ctx, raw[:8], Options{KeyHex: testKeyHex})
	require.ErrorIs(t, err, ErrInvalidStart)
	require.Equal(t, StageFrame, StageOf(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Decode(cancelled, raw, Options{KeyHex: testKeyHex})
	require.Equal(t, "Canceled", Kind(err))
}

func TestDecodeKeyFromContext(t *testing.T) {
	raw := testutil.LoadBytes(t, "t210d/notification.hex")
	key, err := internalopts.ParseKeyHex(testKeyHex)
	require.NoError(t, err)

	ctx := internalopts.WithSecurityKey(context.Background(), key)
	result, err := Decode(ctx, raw, Options{})
	require.NoError(t, err)
	require.Equal(t, 15, result.Measurements.Len())
}

func TestReplayGuard(t *testing.T) {
	raw := testutil.LoadBytes(t, "t210d/notification.hex")
	guard := NewReplayGuard()
	p, err := NewPipeline(Options{KeyHex: testKeyHex, Guard: guard})
	require.NoError(t, err)

	tampered := append([]byte(nil), raw...)
	tampered[40] ^= 0x01
	_, err = p.Decode(context.Background(), tampered)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, seen := guard.Last("534147670000A1B2")
	require.False(t, seen, "failed authentication must not advance the guard")

	_, err = p.Decode(context.Background(), raw)
	require.NoError(t, err)
	last, seen := guard.Last("534147670000A1B2")
	require.True(t, seen)
	require.Equal(t, uint32(123456), last)

	result, err := p.Decode(context.Background(), raw)
	require.ErrorIs(t, err, ErrReplay)
	require.Equal(t, "Replay", Kind(err))
	require.Equal(t, StageReplay, StageOf(err))
	require.Zero(t, result.Measurements.Len())
}

func TestReplayGuardPerTitle(t *testing.T) {
	g := &ReplayGuard{}
	require.NoError(t, g.Observe("A", 10))
	require.NoError(t, g.Observe("B", 5))
	require.ErrorIs(t, g.Observe("A", 10), ErrReplay)
	require.ErrorIs(t, g.Observe("A", 9), ErrReplay)
	require.NoError(t, g.Observe("A", 11))
	last, ok := g.Last("A")
	require.True(t, ok)
	require.Equal(t, uint32(11), last)
}

func TestKind(t *testing.T) {
	require.Equal(t, "", Kind(nil))
	require.Equal(t, "Other", Kind(errors.New("boom")))
	err := stageError(StageCosem, ErrOutOfBounds)
	require.Equal(t, "OutOfBounds", Kind(err))
	require.Equal(t, "cosem: "+ErrOutOfBounds.Error(), err.Error())
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, StageCosem, de.Stage)
}
