package model

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestValidateLedger(t *testing.T) {
	type args struct {
		ledger Ledger
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{
			name: "success",
			args: args{
				ledger: Ledger{
					Version:          "1.0.0",
					UpstreamRevision: "abc1234",
					Channel:          "main",
					SourceLocation:   "https://example.com/base.git",
				},
			},
			wantErr: false,
		},
		{
			name: "success with tag style version",
			args: args{
				ledger: Ledger{
					Version:          "v2.1.0",
					UpstreamRevision: "abc1234",
					Channel:          "main",
					SourceLocation:   "https://example.com/base.git",
				},
			},
			wantErr: false,
		},
		{
			name: "fail version missing",
			args: args{
				ledger: Ledger{
					UpstreamRevision: "abc1234",
					Channel:          "main",
					SourceLocation:   "https://example.com/base.git",
				},
			},
			wantErr: true,
		},
		{
			name: "fail version not semver",
			args: args{
				ledger: Ledger{
					Version:          "latest",
					UpstreamRevision: "abc1234",
					Channel:          "main",
					SourceLocation:   "https://example.com/base.git",
				},
			},
			wantErr: true,
		},
		{
			name: "fail revision missing",
			args: args{
				ledger: Ledger{
					Version:        "1.0.0",
					Channel:        "main",
					SourceLocation: "https://example.com/base.git",
				},
			},
			wantErr: true,
		},
		{
			name: "fail source missing",
			args: args{
				ledger: Ledger{
					Version:          "1.0.0",
					UpstreamRevision: "abc1234",
					Channel:          "main",
				},
			},
			wantErr: true,
		},
		{
			name: "fail channel missing",
			args: args{
				ledger: Ledger{
					Version:          "1.0.0",
					UpstreamRevision: "abc1234",
					SourceLocation:   "https://example.com/base.git",
				},
			},
			wantErr: true,
		},
	}
	for _, tts := range tests {
		tt := tts
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.args.ledger.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarshalLedgerCanonical(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewLedger("https://example.com/base.git", "main", "abc1234", "", false, at)
	buf, err := MarshalLedger(ledger)
	if err != nil {
		t.Fatalf("MarshalLedger() error = %v", err)
	}
	want := `{
  "channel": "main",
  "initialized_at": "2025-03-01T10:00:00Z",
  "source_location": "https://example.com/base.git",
  "updated_at": "2025-03-01T10:00:00Z",
  "upstream_revision": "abc1234",
  "version": "1.0.0"
}
`
	if string(buf) != want {
		t.Errorf("MarshalLedger() = %q, want %q", string(buf), want)
	}

	again, err := MarshalLedger(ledger)
	if err != nil {
		t.Fatalf("MarshalLedger() error = %v", err)
	}
	if !bytes.Equal(buf, again) {
		t.Errorf("MarshalLedger() is not deterministic")
	}
}

func TestLedgerBump(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewLedger("https://example.com/base.git", "main", "abc1234", "", false, at)
	next, err := ledger.Bump("def5678", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("Bump() error = %v", err)
	}
	if next.Version != "1.0.1" {
		t.Errorf("Bump() version = %q, want %q", next.Version, "1.0.1")
	}
	if next.UpstreamRevision != "def5678" {
		t.Errorf("Bump() upstream revision = %q, want %q", next.UpstreamRevision, "def5678")
	}
	if next.PreviousRevision != "abc1234" {
		t.Errorf("Bump() previous revision = %q, want %q", next.PreviousRevision, "abc1234")
	}
	if ledger.Version != "1.0.0" || ledger.UpstreamRevision != "abc1234" {
		t.Errorf("Bump() mutated its receiver: %+v", ledger)
	}
}

func TestLedgerRoundTripKeepsUnknownFields(t *testing.T) {
	t.Parallel()
	in := `{
  "channel": "main",
  "custom_note": "keep me",
  "source_location": "https://example.com/base.git",
  "telemetry": {"opt_in": true, "sample_rate": 3},
  "upstream_revision": "abc1234",
  "version": "1.0.0"
}
`
	ledger, err := UnmarshalLedger([]byte(in))
	if err != nil {
		t.Fatalf("UnmarshalLedger() error = %v", err)
	}
	if ledger.Version != "1.0.0" || ledger.Channel != "main" {
		t.Fatalf("UnmarshalLedger() known fields = %+v", ledger)
	}
	if _, ok := ledger.Extra["custom_note"]; !ok {
		t.Fatalf("UnmarshalLedger() dropped unknown field, extra = %v", ledger.Extra)
	}

	next, err := ledger.Bump("def5678", time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Bump() error = %v", err)
	}
	out, err := MarshalLedger(next)
	if err != nil {
		t.Fatalf("MarshalLedger() error = %v", err)
	}
	for _, fragment := range []string{
		`"custom_note": "keep me"`,
		`"sample_rate": 3`,
		`"version": "1.0.1"`,
		`"previous_revision": "abc1234"`,
	} {
		if !strings.Contains(string(out), fragment) {
			t.Errorf("MarshalLedger() output misses %q:\n%s", fragment, string(out))
		}
	}
}

func TestUnmarshalLedgerRejectsGarbage(t *testing.T) {
	type args struct {
		in string
	}
	tests := []struct {
		name string
		args args
	}{
		{name: "not json", args: args{in: "version: 1.0.0"}},
		{name: "wrong type", args: args{in: `{"version": ["1.0.0"], "upstream_revision": "a", "channel": "main", "source_location": "s"}`}},
		{name: "missing fields", args: args{in: `{"version": "1.0.0"}`}},
		{name: "empty", args: args{in: ""}},
	}
	for _, tts := range tests {
		tt := tts
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := UnmarshalLedger([]byte(tt.args.in))
			if err == nil {
				t.Errorf("UnmarshalLedger() expected an error")
			}
		})
	}
}

func TestNextVersion(t *testing.T) {
	type args struct {
		version string
	}
	tests := []struct {
		name    string
		args    args
		want    string
		wantErr bool
	}{
		{name: "patch", args: args{version: "1.0.0"}, want: "1.0.1"},
		{name: "tolerates tag prefix", args: args{version: "v2.3.4"}, want: "2.3.5"},
		{name: "garbage", args: args{version: "latest"}, wantErr: true},
	}
	for _, tts := range tests {
		tt := tts
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextVersion(tt.args.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("NextVersion() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("NextVersion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersionFromTag(t *testing.T) {
	type args struct {
		tag string
	}
	tests := []struct {
		name   string
		args   args
		want   string
		wantOk bool
	}{
		{name: "plain tag", args: args{tag: "v1.2.3"}, want: "1.2.3", wantOk: true},
		{name: "no prefix", args: args{tag: "1.2.3"}, want: "1.2.3", wantOk: true},
		{name: "branch name", args: args{tag: "main"}, wantOk: false},
		{name: "empty", args: args{tag: ""}, wantOk: false},
	}
	for _, tts := range tests {
		tt := tts
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := VersionFromTag(tt.args.tag)
			if ok != tt.wantOk || got != tt.want {
				t.Errorf("VersionFromTag() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOk)
			}
		})
	}
}
