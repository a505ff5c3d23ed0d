package trace

import (
	"encoding/json"
	"fmt"

	"github.com/nsf/jsondiff"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Divergence describes the first step at which two traces differ.
type Divergence struct {
	Index int
	Left  *Step // nil when the left trace ended first
	Right *Step // nil when the right trace ended first

	// Summary is a compact JSON rendering of the changed fields.
	Summary string
	// Report is an ASCII diff of the two steps.
	Report string
}

func (d *Divergence) String() string {
	switch {
	case d.Left == nil:
		return fmt.Sprintf("step %d: left trace ended, right has %s", d.Index, d.Right.OpcodeStr)
	case d.Right == nil:
		return fmt.Sprintf("step %d: right trace ended, left has %s", d.Index, d.Left.OpcodeStr)
	}
	return fmt.Sprintf("step %d (label %d):\n%s", d.Index, d.Left.Label, d.Report)
}

// Diff compares two traces step by step and returns the first divergence, or
// nil when they are identical. color enables ANSI coloring of the report.
func Diff(left, right []*Step, color bool) (*Divergence, error) {
	n := len(left)
	if len(right) > n {
		n = len(right)
	}
	opts := jsondiff.DefaultJSONOptions()
	for k := 0; k < n; k++ {
		if k >= len(left) {
			return &Divergence{Index: k, Right: right[k]}, nil
		}
		if k >= len(right) {
			return &Divergence{Index: k, Left: left[k]}, nil
		}
		a, err := json.Marshal(left[k])
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(right[k])
		if err != nil {
			return nil, err
		}
		match, summary := jsondiff.Compare(a, b, &opts)
		if match == jsondiff.FullMatch {
			continue
		}
		report, err := asciiDiff(a, b, color)
		if err != nil {
			return nil, err
		}
		return &Divergence{Index: k, Left: left[k], Right: right[k], Summary: summary, Report: report}, nil
	}
	return nil, nil
}

func asciiDiff(a, b []byte, color bool) (string, error) {
	delta, err := gojsondiff.New().Compare(a, b)
	if err != nil {
		return "", fmt.Errorf("diffing steps: %w", err)
	}
	if !delta.Modified() {
		return "", nil
	}
	var leftObj map[string]interface{}
	if err := json.Unmarshal(a, &leftObj); err != nil {
		return "", err
	}
	cfg := formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       color,
	}
	return formatter.NewAsciiFormatter(leftObj, cfg).Format(delta)
}
