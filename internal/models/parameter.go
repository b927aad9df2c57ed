package models

// Parameter kinds.
const (
	KindText    = "text"
	KindNumber  = "number"
	KindInteger = "integer"
	KindBoolean = "boolean"
	KindDate    = "date"
	KindEnum    = "enum"
	KindSlider  = "slider"
	KindRaw     = "raw"
)

// Parameter sources.
const (
	SourceEnv        = "env"
	SourceAnnotation = "annotation"
)

// Input hints for text parameters.
const (
	HintURL   = "url"
	HintEmail = "email"
)

// Parameter is a runtime input a notebook accepts, discovered by static scan.
// Options is only set for KindEnum and Slider only for KindSlider.
type Parameter struct {
	Name        string        `json:"name"`
	Kind        string        `json:"kind"`
	Default     any           `json:"default"`
	Description string        `json:"description,omitempty"`
	Source      string        `json:"source"`
	EnvName     string        `json:"env_name,omitempty"`
	Hint        string        `json:"hint,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
	AllowInput  bool          `json:"allow_input,omitempty"`
	Options     []any         `json:"options,omitempty"`
	Slider      *SliderBounds `json:"slider,omitempty"`
}

// SliderBounds holds the range of a slider parameter.
type SliderBounds struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}
