package compare

import (
	"math"
	"reflect"
	"strings"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/registry"
)

// Diff kinds.
const (
	KindChanged = "changed"
	KindAdded   = "added"
	KindRemoved = "removed"
	KindTopic   = "topic"
	KindCount   = "count"
)

// Diff is one mismatch between reference and replay.
type Diff struct {
	// Index is the output position; -1 for whole-run diffs
	Index int    `json:"index"`
	Topic string `json:"topic"`
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Want  string `json:"want"`
	Got   string `json:"got"`
}

// Result holds the outcome of comparing two output sequences.
type Result struct {
	Service  string `json:"service"`
	Compared int    `json:"compared"`
	Diffs    []Diff `json:"diffs"`
}

// Failed reports whether any diff was found.
func (r *Result) Failed() bool {
	return len(r.Diffs) > 0
}

// Options tune a comparison.
type Options struct {
	// Ignore lists paths skipped together with everything below them
	Ignore []string

	// Tolerance is the relative tolerance for numeric leaves; zero means exact
	Tolerance float64
}

// OptionsFor returns the comparison options declared by a service config.
func OptionsFor(svc registry.ServiceConfig) Options {
	return Options{Ignore: svc.Ignore, Tolerance: svc.Tolerance}
}

// Outputs compares want (reference) against got position by position.
func Outputs(service string, want, got []domain.Output, opts Options) Result {
	res := Result{Service: service}

	n := min(len(want), len(got))
	res.Compared = n

	if len(want) != len(got) {
		res.Diffs = append(res.Diffs, Diff{
			Index: -1,
			Kind:  KindCount,
			Want:  render(len(want)),
			Got:   render(len(got)),
		})
	}

	for i := 0; i < n; i++ {
		res.Diffs = append(res.Diffs, record(i, want[i], got[i], opts)...)
	}
	return res
}

func record(i int, want, got domain.Output, opts Options) []Diff {
	if want.Topic != got.Topic {
		return []Diff{{Index: i, Topic: want.Topic, Path: "topic", Kind: KindTopic, Want: want.Topic, Got: got.Topic}}
	}

	w := Flatten(want)
	g := Flatten(got)

	var diffs []Diff
	for _, path := range union(w, g) {
		if ignored(path, opts.Ignore) {
			continue
		}
		wv, inW := w[path]
		gv, inG := g[path]

		d := Diff{Index: i, Topic: want.Topic, Path: path, Want: render(wv), Got: render(gv)}
		switch {
		case !inG:
			d.Kind = KindRemoved
			d.Got = render(nil)
		case !inW:
			d.Kind = KindAdded
			d.Want = render(nil)
		case equal(wv, gv, opts.Tolerance):
			continue
		default:
			d.Kind = KindChanged
		}
		diffs = append(diffs, d)
	}
	return diffs
}

func union(a, b map[string]any) []string {
	merged := make(map[string]any, len(a)+len(b))
	for k := range a {
		merged[k] = nil
	}
	for k := range b {
		merged[k] = nil
	}
	return Paths(merged)
}

func ignored(path string, ignore []string) bool {
	for _, p := range ignore {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}

func equal(a, b any, tol float64) bool {
	fa, okA := asFloat(a)
	fb, okB := asFloat(b)
	if okA && okB {
		if fa == fb {
			return true
		}
		if math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
		return math.Abs(fa-fb) <= tol*math.Max(math.Abs(fa), math.Abs(fb))
	}
	return reflect.DeepEqual(a, b)
}
