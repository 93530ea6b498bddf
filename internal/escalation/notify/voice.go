package notify

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"safeflame/internal/escalation/application"
	escalation "safeflame/internal/escalation/domain"
)

// CommandRunner runs an external program.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Volumes maps severities to playback volume in [0,1].
type Volumes struct {
	Info     float64
	Warning  float64
	Critical float64
}

// DefaultVolumes are the stock per-severity volumes.
var DefaultVolumes = Volumes{Info: 0.7, Warning: 0.9, Critical: 1.0}

func (v Volumes) forSeverity(severity escalation.Severity) float64 {
	switch severity {
	case escalation.SeverityCritical:
		return v.Critical
	case escalation.SeverityWarning:
		return v.Warning
	default:
		return v.Info
	}
}

// VoiceSink speaks alerts and advice through a system TTS command.
type VoiceSink struct {
	command string
	rate    int
	volumes Volumes
	runner  CommandRunner
	timeout time.Duration
}

// VoiceOption customizes the voice sink.
type VoiceOption func(*VoiceSink)

// WithCommandRunner overrides process execution.
func WithCommandRunner(runner CommandRunner) VoiceOption {
	return func(s *VoiceSink) {
		if runner != nil {
			s.runner = runner
		}
	}
}

// WithVolumes overrides per-severity volumes.
func WithVolumes(volumes Volumes) VoiceOption {
	return func(s *VoiceSink) {
		s.volumes = volumes
	}
}

// WithSpeakTimeout bounds one utterance.
func WithSpeakTimeout(timeout time.Duration) VoiceOption {
	return func(s *VoiceSink) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewVoiceSink constructs a voice sink for command (espeak, say, or any program taking text as last argument).
func NewVoiceSink(command string, rate int, opts ...VoiceOption) (*VoiceSink, error) {
	if command == "" {
		return nil, errors.New("voice sink: empty command")
	}
	s := &VoiceSink{
		command: command,
		rate:    rate,
		volumes: DefaultVolumes,
		runner:  execRunner{},
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements Sink.
func (s *VoiceSink) Name() string { return "voice" }

// Deliver implements Sink.
func (s *VoiceSink) Deliver(ctx context.Context, event application.Event) error {
	switch {
	case event.Type == application.EventAlert && event.Alert != nil:
		return s.speak(ctx, event.Alert.Message, event.Alert.Severity)
	case event.Type == application.EventAdvice && event.Advice != nil:
		return s.speak(ctx, event.Advice.Text, escalation.SeverityOf(event.Advice.Kind))
	default:
		return nil
	}
}

func (s *VoiceSink) speak(ctx context.Context, text string, severity escalation.Severity) error {
	if text == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.runner.Run(ctx, s.command, s.args(text, s.volumes.forSeverity(severity))...)
}

func (s *VoiceSink) args(text string, volume float64) []string {
	var args []string
	switch filepath.Base(s.command) {
	case "espeak", "espeak-ng":
		if s.rate > 0 {
			args = append(args, "-s", strconv.Itoa(s.rate))
		}
		args = append(args, "-a", strconv.Itoa(int(math.Round(volume*200))))
	case "say":
		if s.rate > 0 {
			args = append(args, "-r", strconv.Itoa(s.rate))
		}
		args = append(args, "[[volm "+strconv.FormatFloat(volume, 'f', 2, 64)+"]]")
	}
	return append(args, text)
}
