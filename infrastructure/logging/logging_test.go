package logging

import (
	"bytes"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/search"
)

// testLogger creates a logger that writes to a buffer for testing
func testLogger() (*bolt.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(Config{Level: "trace", Format: "json", Output: buf}), buf
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	if config.Level != "info" {
		t.Errorf("Level = %s, want info", config.Level)
	}
	if config.Format != "console" {
		t.Errorf("Format = %s, want console", config.Format)
	}
	if config.Output != os.Stderr {
		t.Errorf("Output = %v, want os.Stderr", config.Output)
	}
}

func TestProductionConfig(t *testing.T) {
	t.Parallel()

	if config := ProductionConfig(); config.Format != "json" {
		t.Errorf("Format = %s, want json", config.Format)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected bolt.Level
	}{
		{"trace", bolt.TRACE},
		{"debug", bolt.DEBUG},
		{"info", bolt.INFO},
		{"warn", bolt.WARN},
		{"WARNING", bolt.WARN},
		{"error", bolt.ERROR},
		{"unknown", bolt.INFO},
		{"", bolt.INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			if result := parseLevel(tt.input); result != tt.expected {
				t.Errorf("parseLevel(%s) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := New(Config{Level: "warn", Format: "json", Output: buf})

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info event written at warn level: %s", buf.String())
	}
	logger.Warn().Msg("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Errorf("warn event missing: %s", buf.String())
	}
}

func TestFields(t *testing.T) {
	t.Parallel()

	task := counting.SamplingTask{
		Oracle:        "syn",
		Method:        counting.MethodXOR,
		Level:         "1.0.2",
		Amplification: 3,
		Replication:   1,
	}
	iv := counting.EdgeInterval{
		Lower:      big.NewRat(1, 2),
		Upper:      big.NewRat(18, 1),
		Confidence: big.NewRat(99, 100),
		Bounded:    true,
	}

	tests := []struct {
		name  string
		field Field
		want  []string
	}{
		{name: "run id", field: RunID("run-123"), want: []string{`"run_id":"run-123"`}},
		{name: "pass", field: Pass(2), want: []string{`"pass":2`}},
		{name: "phase", field: Phase(search.PhaseVoting), want: []string{`"phase":"voting"`}},
		{
			name:  "transition",
			field: Transition(search.PhaseDescending, search.PhaseVoting),
			want:  []string{`"from_phase":"descending"`, `"to_phase":"voting"`},
		},
		{name: "level", field: Level(counting.RestrictionLevel{1, 0, 2}), want: []string{`"level":"1.0.2"`}},
		{name: "task", field: TaskKey(task), want: []string{`"task":"syn|xor|1.0.2|3|1"`}},
		{
			name:  "verdict",
			field: Verdict(true, search.SourceVote),
			want:  []string{`"verdict":true`, `"source":"vote"`},
		},
		{name: "trials", field: Trials(29), want: []string{`"trials":29`}},
		{
			name:  "interval",
			field: Interval(iv),
			want:  []string{`"lower":"0.5000"`, `"upper":"18.0000"`, `"confidence":"0.990000"`, `"bounded":true`},
		},
		{name: "backend", field: Backend("redis"), want: []string{`"backend":"redis"`}},
		{name: "duration", field: Duration(1500 * time.Millisecond), want: []string{`"duration_ms":1500`}},
		{name: "component", field: Component("engine"), want: []string{`"component":"engine"`}},
		{name: "custom", field: Str("k", "v"), want: []string{`"k":"v"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, buf := testLogger()
			tt.field(logger.Info()).Msg("test")
			for _, w := range tt.want {
				if !bytes.Contains(buf.Bytes(), []byte(w)) {
					t.Errorf("expected %s in output: %s", w, buf.String())
				}
			}
		})
	}
}

func TestErrorField(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()
	ErrorField(nil)(logger.Info()).Msg("no error")
	if bytes.Contains(buf.Bytes(), []byte(`"error"`)) {
		t.Errorf("nil error produced an error field: %s", buf.String())
	}

	buf.Reset()
	ErrorField(errors.New("store offline"))(logger.Info()).Msg("with error")
	if !bytes.Contains(buf.Bytes(), []byte("store offline")) {
		t.Errorf("expected error message in output: %s", buf.String())
	}
}

func TestLogEvent_Add(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()
	NewEvent(logger.Info()).Add(RunID("r1"), Pass(1)).Msg("chained")

	for _, w := range []string{`"run_id":"r1"`, `"pass":1`, "chained"} {
		if !bytes.Contains(buf.Bytes(), []byte(w)) {
			t.Errorf("expected %s in output: %s", w, buf.String())
		}
	}
}
