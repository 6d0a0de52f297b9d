package correction

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

const (
	StageClassical = "classical"
	StageBridge    = "bridge"
	StageQuantum   = "quantum"

	DefaultMaxQuantumStateSize = 64 * 1024
)

var ErrCorrectionFailed = errors.New("correction failed")

type (
	// Stage corrects (or validates) the payload. Stages must be idempotent:
	// applying a stage to its own output yields the same output.
	Stage interface {
		Name() string
		Correct(payload []byte) ([]byte, error)
	}

	// CorrectionError names the stage which failed.
	CorrectionError struct {
		Stage string
		Err   error
	}

	// Observer is called after every executed stage with the error of the stage (nil on success).
	Observer func(stage string, err error)

	Pipeline struct {
		stages   []Stage
		observer Observer
	}

	Options struct {
		classical           Stage
		bridge              Stage
		quantum             Stage
		observer            Observer
		maxQuantumStateSize int
	}

	Option func(*Options)
)

func (e *CorrectionError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *CorrectionError) Unwrap() []error {
	return []error{ErrCorrectionFailed, e.Err}
}

func WithClassical(s Stage) Option {
	return func(o *Options) {
		o.classical = s
	}
}

func WithBridge(s Stage) Option {
	return func(o *Options) {
		o.bridge = s
	}
}

func WithQuantum(s Stage) Option {
	return func(o *Options) {
		o.quantum = s
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.observer = obs
	}
}

// WithMaxQuantumStateSize sets size limit of the default quantum stage.
func WithMaxQuantumStateSize(size int) Option {
	return func(o *Options) {
		o.maxQuantumStateSize = size
	}
}

// New returns pipeline of classical, bridge and quantum stages, in that order.
func New(opts ...Option) *Pipeline {
	o := &Options{maxQuantumStateSize: DefaultMaxQuantumStateSize}
	for _, opt := range opts {
		opt(o)
	}
	if o.classical == nil {
		o.classical = NewClassicalStage()
	}
	if o.bridge == nil {
		o.bridge = NewBridgeStage()
	}
	if o.quantum == nil {
		o.quantum = NewQuantumStage(o.maxQuantumStateSize)
	}
	return &Pipeline{
		stages:   []Stage{o.classical, o.bridge, o.quantum},
		observer: o.observer,
	}
}

// Run runs the stages in sequence on a copy of the payload and stops at the
// first failing stage. The input slice is never modified.
func (p *Pipeline) Run(payload []byte) ([]byte, error) {
	data := slices.Clone(payload)
	for _, s := range p.stages {
		out, err := s.Correct(data)
		if p.observer != nil {
			p.observer(s.Name(), err)
		}
		if err != nil {
			log.Debug("payload rejected by %s stage: %v", s.Name(), err)
			return nil, &CorrectionError{Stage: s.Name(), Err: err}
		}
		data = out
	}
	return data, nil
}

// Stages returns names of the stages in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}
