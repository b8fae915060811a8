package scraper

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		kind    SpecKind
		every   time.Duration
		wantErr bool
	}{
		{name: "cron five fields", in: "*/30 * * * *", kind: SpecCron},
		{name: "cron hourly", in: "0 * * * *", kind: SpecCron},
		{name: "cron descriptor", in: "@hourly", kind: SpecCron},
		{name: "cron forced prefix", in: "cron:@daily", kind: SpecCron},
		{name: "duration", in: "1h", kind: SpecInterval, every: time.Hour},
		{name: "duration composite", in: "2h30m", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{name: "interval prefix", in: "interval:45m", kind: SpecInterval, every: 45 * time.Minute},
		{name: "every prefix", in: "every:10m", kind: SpecInterval, every: 10 * time.Minute},
		{name: "surrounding space", in: "  1h  ", kind: SpecInterval, every: time.Hour},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "soonish", wantErr: true},
		{name: "zero interval", in: "0s", wantErr: true},
		{name: "negative interval", in: "interval:-5m", wantErr: true},
		{name: "bad cron", in: "cron:61 * * * *", wantErr: true},
		{name: "empty after prefix", in: "every:", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) = %+v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
			}
			if got.Kind != tc.kind {
				t.Fatalf("kind = %d, want %d", got.Kind, tc.kind)
			}
			if tc.kind == SpecInterval && got.Every != tc.every {
				t.Fatalf("every = %v, want %v", got.Every, tc.every)
			}
			if tc.kind == SpecCron && got.Cron == nil {
				t.Fatal("cron schedule is nil")
			}
		})
	}
}

func TestParsedSpecNext(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 10, 17, 0, 0, time.UTC)

	interval, err := ParseSchedule("30m")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if got, want := interval.Next(now), now.Add(30*time.Minute); !got.Equal(want) {
		t.Fatalf("interval Next = %v, want %v", got, want)
	}

	hourly, err := ParseSchedule("0 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if got, want := hourly.Next(now), time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("cron Next = %v, want %v", got, want)
	}
}
