package filter

import (
	"encoding/json"
	"strings"

	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/pkg/types"
)

// SanitizeConfig is an alias of config.SanitizeConfig.
type SanitizeConfig = config.SanitizeConfig

// Sanitizer redacts secrets in headers, query params and JSON bodies.
type Sanitizer struct {
	headers     map[string]struct{}
	fields      map[string]struct{}
	replacement string
}

// NewSanitizer builds a Sanitizer from cfg.
func NewSanitizer(cfg SanitizeConfig) *Sanitizer {
	return &Sanitizer{
		headers:     toLowerSet(cfg.Headers),
		fields:      toLowerSet(cfg.BodyFields),
		replacement: cfg.Replacement,
	}
}

// Sanitize redacts sensitive data in a batch of traffic logs.
func Sanitize(logs []types.TrafficLog, cfg SanitizeConfig) []types.TrafficLog {
	s := NewSanitizer(cfg)
	out := make([]types.TrafficLog, len(logs))
	for i, l := range logs {
		out[i] = s.Log(l)
	}
	return out
}

// Log returns a redacted copy of l.
func (s *Sanitizer) Log(l types.TrafficLog) types.TrafficLog {
	if s == nil {
		return l
	}
	l.RequestHeaders = sanitizeHeaderMap(l.RequestHeaders, s.headers, s.replacement)
	l.ResponseHeaders = sanitizeHeaderMap(l.ResponseHeaders, s.headers, s.replacement)
	l.QueryParams = sanitizeQueryParams(l.QueryParams, s.fields, s.replacement)
	l.RequestBody = sanitizeBody(l.RequestBody, s.fields, s.replacement)
	l.ResponseBody = sanitizeBody(l.ResponseBody, s.fields, s.replacement)
	return l
}

// Body returns a redacted copy of a JSON body. Non-JSON input is returned as is.
func (s *Sanitizer) Body(body string) string {
	if s == nil {
		return body
	}
	return sanitizeBody(body, s.fields, s.replacement)
}

// Headers returns a redacted copy of a header map.
func (s *Sanitizer) Headers(in map[string]string) map[string]string {
	if s == nil {
		return in
	}
	return sanitizeHeaderMap(in, s.headers, s.replacement)
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func sanitizeHeaderMap(in map[string]string, set map[string]struct{}, replacement string) map[string]string {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if _, ok := set[strings.ToLower(k)]; ok {
			out[k] = replacement
			continue
		}
		out[k] = v
	}
	return out
}

func sanitizeQueryParams(in map[string][]string, set map[string]struct{}, replacement string) map[string][]string {
	if len(in) == 0 {
		return in
	}
	out := make(map[string][]string, len(in))
	for k, vs := range in {
		if _, ok := set[strings.ToLower(k)]; ok {
			repl := make([]string, len(vs))
			for i := range repl {
				repl[i] = replacement
			}
			out[k] = repl
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func sanitizeBody(body string, set map[string]struct{}, replacement string) string {
	if strings.TrimSpace(body) == "" || len(set) == 0 {
		return body
	}
	var v interface{}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return body
	}
	v = sanitizeJSONValue(v, set, replacement)
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return string(out)
}

func sanitizeJSONValue(v interface{}, set map[string]struct{}, replacement string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			if _, ok := set[strings.ToLower(k)]; ok {
				val[k] = replacement
				continue
			}
			val[k] = sanitizeJSONValue(v2, set, replacement)
		}
		return val
	case []interface{}:
		for i := range val {
			val[i] = sanitizeJSONValue(val[i], set, replacement)
		}
		return val
	default:
		return val
	}
}
