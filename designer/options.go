package designer

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"tabular/capital"
	"tabular/qinfo"
)

// PrevEvaluations is the caller-supplied collection of prior evaluations
// (spec.md §4.6.2, priority 1): when present it overrides generation of
// initial queries entirely.
type PrevEvaluations struct {
	QInfos []*qinfo.QInfo
}

// Options enumerates the dispatch loop's configuration (spec.md §6).
type Options struct {
	MaxNumSteps        int        `mapstructure:"maxNumSteps" yaml:"maxNumSteps"`
	CapitalType        capital.Type `mapstructure:"capitalType" yaml:"capitalType"`
	Mode               string     `mapstructure:"mode" yaml:"mode"`
	BuildNewModelEvery int        `mapstructure:"buildNewModelEvery" yaml:"buildNewModelEvery"`
	ReportResultsEvery int        `mapstructure:"reportResultsEvery" yaml:"reportResultsEvery"`

	// Initialisation effort, prioritised InitCapital, then InitCapitalFrac,
	// then NumInitEvals (spec.md §6). Per spec.md §9's open question, only
	// the NumInitEvals branch is implemented; the other two are advisory
	// fields a policy may consult directly.
	InitCapital     *float64 `mapstructure:"initCapital" yaml:"initCapital"`
	InitCapitalFrac *float64 `mapstructure:"initCapitalFrac" yaml:"initCapitalFrac"`
	NumInitEvals    int      `mapstructure:"numInitEvals" yaml:"numInitEvals"`

	PrevEvaluations  *PrevEvaluations                     `mapstructure:"-" yaml:"-"`
	GetInitialQInfos func(n int) ([]*qinfo.QInfo, error) `mapstructure:"-" yaml:"-"`
	InitMethod       string                               `mapstructure:"initMethod" yaml:"initMethod"`

	// Multi-fidelity options.
	FidelInitMethod                 string  `mapstructure:"fidelInitMethod" yaml:"fidelInitMethod"`
	InitSetToFidelToOptWithProb     float64 `mapstructure:"initSetToFidelToOptWithProb" yaml:"initSetToFidelToOptWithProb"`
}

// DefaultOptions mirrors ed_core_args' defaults in exd_core.py.
func DefaultOptions() *Options {
	return &Options{
		MaxNumSteps:                 10000000,
		CapitalType:                 capital.ReturnValue,
		Mode:                        "asy",
		BuildNewModelEvery:          17,
		ReportResultsEvery:          1,
		NumInitEvals:                20,
		InitMethod:                  "rand",
		FidelInitMethod:             "rand",
		InitSetToFidelToOptWithProb: 0.25,
	}
}

// outerConfig mirrors the teacher's reinforcement.OuterConfig: viper reads
// into a generic kind/def shape, which is then re-marshalled into the
// typed struct via yaml.v3, exactly as reinforcement.TrainingConfig.FromYaml
// does (see DESIGN.md, "designer" entry).
type outerConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// FromYAML loads Options from a YAML file, starting from DefaultOptions
// and overlaying whatever the file specifies.
func FromYAML(path string) (*Options, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	if err := vp.ReadInConfig(); err != nil {
		return nil, err
	}

	outer := &outerConfig{}
	if err := vp.Unmarshal(outer); err != nil {
		return nil, err
	}

	spec, err := yaml.Marshal(outer.Def)
	if err != nil {
		return nil, err
	}

	opts := DefaultOptions()
	if err := yaml.Unmarshal(spec, opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// isAsynchronous reports whether Mode prefix-matches "asy" (spec.md §8:
// "full_policy_name begins with asy- iff mode prefix-matches asy").
func (o *Options) isAsynchronous() bool {
	m := o.Mode
	if len(m) > 3 {
		m = m[:3]
	}
	return strings.EqualFold(m, "asy")
}
