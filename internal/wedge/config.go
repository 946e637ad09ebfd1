package wedge

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Defaults for the timing gate and deferred actions.
const (
	DefaultScanInterval = 50 * time.Millisecond
	// DefaultIdleTimeout must stay above the pacing gate: a terminator may
	// trail the last character by a little more than the gate.
	DefaultIdleTimeout = 80 * time.Millisecond
	DefaultFocusDelay  = 30 * time.Millisecond

	DefaultSubmitCode     = "SUBMIT_FORM_NOW"
	DefaultFlagCode       = "__ABNORMAL__"
	DefaultSegmentPattern = `\((\d+)\)([^()]*)`
)

// Action is what the router did with a finalized burst.
type Action int

const (
	ActionNone Action = iota
	ActionFlag
	ActionSubmit
	ActionValue
)

func (a Action) String() string {
	switch a {
	case ActionFlag:
		return "flag"
	case ActionSubmit:
		return "submit"
	case ActionValue:
		return "value"
	default:
		return "none"
	}
}

// ParseAction parses a control-code action name.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flag":
		return ActionFlag, nil
	case "submit":
		return ActionSubmit, nil
	default:
		return ActionNone, fmt.Errorf("unknown control action: %q", s)
	}
}

// ControlCode is a reserved burst value that triggers an action instead of
// being written into a field.
type ControlCode struct {
	Code       string
	Action     Action
	IgnoreCase bool
}

func (c ControlCode) matches(code string) bool {
	if c.IgnoreCase {
		return strings.EqualFold(code, c.Code)
	}
	return code == c.Code
}

// Config tunes a Controller.
type Config struct {
	// ScanInterval is the pacing gate: a keystroke arriving less than this
	// after the previous one is scanner-paced.
	ScanInterval time.Duration

	// IdleTimeout abandons an open burst when no key of any kind arrives.
	IdleTimeout time.Duration

	// FocusDelay defers focus changes made after flag and submit actions.
	FocusDelay time.Duration

	// Terminator ends a burst.
	Terminator Key

	// Codes is the control-code set. Order within an action is preserved;
	// flag codes are always evaluated before submit codes.
	Codes []ControlCode

	// SegmentPattern recognizes one structured-payload group. It must have
	// exactly two capture groups: the segment id and the segment value.
	SegmentPattern string
}

// DefaultConfig returns the workstation defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval: DefaultScanInterval,
		IdleTimeout:  DefaultIdleTimeout,
		FocusDelay:   DefaultFocusDelay,
		Terminator:   KeyEnter,
		Codes: []ControlCode{
			{Code: DefaultFlagCode, Action: ActionFlag, IgnoreCase: true},
			{Code: DefaultSubmitCode, Action: ActionSubmit},
		},
		SegmentPattern: DefaultSegmentPattern,
	}
}

// ErrInvalidConfig is wrapped by every Config validation failure.
var ErrInvalidConfig = errors.New("invalid wedge config")

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ScanInterval <= 0 {
		return fmt.Errorf("%w: scan interval must be positive", ErrInvalidConfig)
	}
	if c.IdleTimeout < c.ScanInterval {
		return fmt.Errorf("%w: idle timeout %v shorter than scan interval %v", ErrInvalidConfig, c.IdleTimeout, c.ScanInterval)
	}
	if c.FocusDelay < 0 {
		return fmt.Errorf("%w: focus delay must not be negative", ErrInvalidConfig)
	}
	switch c.Terminator {
	case KeyEnter, KeyTab:
	default:
		return fmt.Errorf("%w: terminator must be enter or tab, got %s", ErrInvalidConfig, c.Terminator)
	}
	for i, cc := range c.Codes {
		if strings.TrimSpace(cc.Code) == "" {
			return fmt.Errorf("%w: control code %d is empty", ErrInvalidConfig, i)
		}
		if cc.Code != strings.TrimSpace(cc.Code) {
			return fmt.Errorf("%w: control code %q has surrounding whitespace", ErrInvalidConfig, cc.Code)
		}
		if cc.Action != ActionFlag && cc.Action != ActionSubmit {
			return fmt.Errorf("%w: control code %q has action %s", ErrInvalidConfig, cc.Code, cc.Action)
		}
	}
	if _, err := compileSegmentPattern(c.SegmentPattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func compileSegmentPattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("segment pattern: %w", err)
	}
	if re.NumSubexp() != 2 {
		return nil, fmt.Errorf("segment pattern %q must have 2 capture groups, has %d", pattern, re.NumSubexp())
	}
	return re, nil
}
