package meterdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/d21d3q/gosmartmeter/internal/sink"
	"github.com/d21d3q/gosmartmeter/pkg/gosmartmeter"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "meter.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPublishAndQuery(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2024, 10, 19, 14, 30, 0, 0, time.UTC)

	for i, v := range []float64{230.1, 230.8, 231.0} {
		r := sink.Reading{
			At:          t0.Add(time.Duration(i) * time.Minute),
			SystemTitle: "5341471030700001",
			Counter:     uint32(100 + i),
			Values: gosmartmeter.NewMeasurementSet([]gosmartmeter.Measurement{
				{Kind: gosmartmeter.VoltageL1, Value: v},
				{Kind: gosmartmeter.SerialNumber, Text: "12345678"},
			}),
		}
		if err := s.Publish(ctx, r); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	latest, err := s.Latest(ctx, gosmartmeter.VoltageL1)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Measurement.Value != 231.0 || latest.Counter != 102 || !latest.At.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("unexpected latest row %+v", latest)
	}
	if latest.Measurement.Code.String() != "1-0:32.7.0*255" {
		t.Fatalf("OBIS code not restored: %s", latest.Measurement.Code)
	}

	serial, err := s.Latest(ctx, gosmartmeter.SerialNumber)
	if err != nil || serial.Measurement.Text != "12345678" {
		t.Fatalf("text measurement: %+v %v", serial, err)
	}

	history, err := s.History(ctx, gosmartmeter.VoltageL1, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Measurement.Value != 230.8 || history[1].Measurement.Value != 231.0 {
		t.Fatalf("unexpected history %+v", history)
	}

	if _, err := s.Latest(ctx, gosmartmeter.CurrentL3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r := sink.Reading{
		At: time.Unix(1700000000, 0).UTC(),
		Values: gosmartmeter.NewMeasurementSet([]gosmartmeter.Measurement{
			{Kind: gosmartmeter.ActiveEnergyPlus, Value: 5123456},
		}),
	}
	if err := s.Publish(context.Background(), r); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	row, err := s.Latest(context.Background(), gosmartmeter.ActiveEnergyPlus)
	if err != nil || row.Measurement.Value != 5123456 {
		t.Fatalf("row lost after reopen: %+v %v", row, err)
	}
}
