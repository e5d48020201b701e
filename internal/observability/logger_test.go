package observability

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   string
		format  string
		enabled zap.AtomicLevel
		wantErr bool
	}{
		{name: "defaults", enabled: zap.NewAtomicLevelAt(zap.InfoLevel)},
		{name: "debug_console", level: "DEBUG", format: "console", enabled: zap.NewAtomicLevelAt(zap.DebugLevel)},
		{name: "warn_json", level: " warn ", format: "json", enabled: zap.NewAtomicLevelAt(zap.WarnLevel)},
		{name: "bad_level", level: "loud", wantErr: true},
		{name: "bad_format", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			log, err := NewLogger(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			want := tt.enabled.Level()
			if !log.Core().Enabled(want) {
				t.Fatalf("level %s not enabled", want)
			}
			if want > zap.DebugLevel && log.Core().Enabled(want-1) {
				t.Fatalf("level %s enabled below %s", want-1, want)
			}
		})
	}
}
