package agent

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	maxDigestItems   = 5
	maxDigestSummary = 300
)

var (
	summaryPaths = []string{"summary", "text", "message", "description", "title", "result"}
	countPaths   = []string{"count", "total", "n", "num_results"}
	listPaths    = []string{"items", "results", "data", "hits", "records"}
	itemPaths    = []string{"id", "accession", "title", "name", "symbol"}
)

// Digest is the short form of a capability result carried on ToolResult
// events and fed to synthesis.
type Digest struct {
	Summary string
	Count   int
	Items   []string
}

// DigestOf extracts a summary, a result count and a few item labels from
// a capability result of any shape.
func DigestOf(result any) Digest {
	raw, err := json.Marshal(result)
	if err != nil || !gjson.ValidBytes(raw) {
		return Digest{}
	}
	doc := gjson.ParseBytes(raw)

	var d Digest
	var list gjson.Result
	if doc.IsArray() {
		list = doc
	} else {
		for _, p := range listPaths {
			if r := doc.Get(p); r.IsArray() {
				list = r
				break
			}
		}
	}

	if doc.Type == gjson.String {
		d.Summary = doc.String()
	}
	for _, p := range summaryPaths {
		if d.Summary != "" || !doc.IsObject() {
			break
		}
		if r := doc.Get(p); r.Type == gjson.String && strings.TrimSpace(r.String()) != "" {
			d.Summary = r.String()
			break
		}
	}
	for _, p := range countPaths {
		if r := doc.Get(p); r.Type == gjson.Number {
			d.Count = int(r.Int())
			break
		}
	}
	if list.Exists() {
		if d.Count == 0 {
			d.Count = len(list.Array())
		}
		list.ForEach(func(_, v gjson.Result) bool {
			if label := itemLabel(v); label != "" {
				d.Items = append(d.Items, label)
			}
			return len(d.Items) < maxDigestItems
		})
	}

	if d.Summary == "" {
		d.Summary = doc.Raw
	}
	d.Summary = truncate(strings.TrimSpace(d.Summary), maxDigestSummary)
	return d
}

func itemLabel(v gjson.Result) string {
	switch {
	case v.Type == gjson.String || v.Type == gjson.Number:
		return v.String()
	case v.IsObject():
		for _, p := range itemPaths {
			if r := v.Get(p); r.Exists() && r.String() != "" {
				return r.String()
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
