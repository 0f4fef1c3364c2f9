package content

import "strings"

// Result is the outcome of processing one entity inside a firing.
// A nil Err with Skipped=false is a success.
type Result struct {
	Kind    string // "post" | "account" | "download" | "activity"
	ID      string
	Err     error
	Skipped bool
}

func (r Result) OK() bool { return r.Err == nil && !r.Skipped }

func Succeeded(kind, id string) Result         { return Result{Kind: kind, ID: id} }
func Failed(kind, id string, err error) Result { return Result{Kind: kind, ID: id, Err: err} }
func Skipped(kind, id string) Result           { return Result{Kind: kind, ID: id, Skipped: true} }

// Report aggregates the per-entity results of one firing.
type Report struct {
	Stage   string
	Results []Result
	// Deleted is set by retention firings (rows removed).
	Deleted int64
}

func (r *Report) Add(res Result) { r.Results = append(r.Results, res) }

func (r Report) Attempted() int {
	n := 0
	for _, res := range r.Results {
		if !res.Skipped {
			n++
		}
	}
	return n
}

func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

func (r Report) Skipped() int {
	n := 0
	for _, res := range r.Results {
		if res.Skipped {
			n++
		}
	}
	return n
}

// Find returns the result for the entity id, if any.
func (r Report) Find(id string) (Result, bool) {
	for _, res := range r.Results {
		if res.ID == id {
			return res, true
		}
	}
	return Result{}, false
}

// Errors joins the per-item failures into a short summary string.
func (r Report) Errors() string {
	var b strings.Builder
	for _, res := range r.Results {
		if res.Err == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(res.ID)
		b.WriteString(": ")
		b.WriteString(res.Err.Error())
	}
	return b.String()
}
