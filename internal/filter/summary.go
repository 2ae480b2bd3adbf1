package filter

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/yourorg/loadcore/pkg/types"
)

// EndpointSummary aggregates recorded calls to one endpoint.
type EndpointSummary struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	Calls        int    `json:"calls"`
	Failures     int    `json:"failures"`
	MaxLatencyMs int64  `json:"max_latency_ms"`
	LastStatus   int    `json:"last_status"`
}

var (
	sessionSegment = regexp.MustCompile(`^wireless-[0-9A-Za-z-]+$`)
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// Summarize merges calls that only differ by session, test or operation IDs,
// keeping first-seen order. Poll loops collapse into one row with a call count.
func Summarize(logs []types.TrafficLog) []EndpointSummary {
	out := make([]EndpointSummary, 0, len(logs))
	index := make(map[string]int, len(logs))
	for _, l := range logs {
		tpl := TemplatePath(l.Path)
		key := requestKey(l.Method, tpl, l.QueryParams)
		idx, ok := index[key]
		if !ok {
			idx = len(out)
			index[key] = idx
			out = append(out, EndpointSummary{Method: strings.ToUpper(l.Method), Path: tpl})
		}
		s := &out[idx]
		s.Calls++
		if l.Error != "" || l.StatusCode >= 400 {
			s.Failures++
		}
		if l.LatencyMs > s.MaxLatencyMs {
			s.MaxLatencyMs = l.LatencyMs
		}
		s.LastStatus = l.StatusCode
	}
	return out
}

// TemplatePath replaces identifier segments with placeholders.
func TemplatePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		switch {
		case sessionSegment.MatchString(part):
			parts[i] = "{sessionId}"
		case uuidSegment.MatchString(part), numericSegment.MatchString(part):
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func requestKey(method, path string, params map[string][]string) string {
	return strings.ToUpper(method) + " " + path + "?" + canonicalQuery(params)
}

func canonicalQuery(params map[string][]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := url.Values{}
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			vals.Add(k, v)
		}
	}
	return vals.Encode()
}
