package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLRecorderAppendsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "signals.jsonl")
	rec, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder: %v", err)
	}

	entries := []Entry{
		{Ts: time.Unix(1700000000, 0).UTC(), Symbol: "BTCUSDT", Interval: "1h", ClosePrice: 50000, SignalType: "LONG_ENTRY", Strategy: "momentum", SignalGenerated: true, EntryPrice: 50000, TakeProfit: 55000, StopLoss: 48000},
		{Ts: time.Unix(1700003600, 0).UTC(), Symbol: "BTCUSDT", Interval: "1h", ClosePrice: 51000, SignalType: "CLOSE_LONG", Strategy: "momentum", SignalGenerated: true, ExitPrice: 51000, ExitReason: "trend reversal"},
	}
	for _, e := range entries {
		if err := rec.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var got []Entry
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].SignalType != "LONG_ENTRY" || got[0].TakeProfit != 55000 {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].ExitReason != "trend reversal" {
		t.Fatalf("unexpected second entry: %+v", got[1])
	}
}

func TestRecordAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	rec, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Record(Entry{Symbol: "BTCUSDT"}); err == nil {
		t.Fatalf("expected error recording after close")
	}
}
