// Package har exports recorded run traffic as HAR 1.2 and reads it back.
package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/yourorg/loadcore/pkg/types"
)

const creatorName = "loadcore"

type File struct {
	Log Log `json:"log"`
}

type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
	Encoding string `json:"encoding,omitempty"`
}

type Request struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []NameValue `json:"headers"`
	QueryString []NameValue `json:"queryString"`
	PostData    *PostData   `json:"postData,omitempty"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type Response struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []NameValue `json:"headers"`
	Content     Content     `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

type Timings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}

type Entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            int64    `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           struct{} `json:"cache"`
	Timings         Timings  `json:"timings"`
	Comment         string   `json:"comment,omitempty"`
}

// Build converts logs into a HAR document ordered by Seq. scheme is used
// for the request URLs.
func Build(logs []types.TrafficLog, scheme, version string) File {
	sorted := append([]types.TrafficLog(nil), logs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	f := File{Log: Log{Version: "1.2", Creator: Creator{Name: creatorName, Version: version}, Entries: make([]Entry, 0, len(sorted))}}
	for _, l := range sorted {
		u := url.URL{Scheme: scheme, Host: l.Host, Path: l.Path, RawQuery: url.Values(l.QueryParams).Encode()}
		e := Entry{
			StartedDateTime: l.Timestamp.UTC().Format(time.RFC3339Nano),
			Time:            l.LatencyMs,
			Request: Request{
				Method:      l.Method,
				URL:         u.String(),
				HTTPVersion: "HTTP/1.1",
				Headers:     nameValues(l.RequestHeaders),
				QueryString: queryString(l.QueryParams),
				HeadersSize: -1,
				BodySize:    len(l.RequestBody),
			},
			Response: Response{
				Status:      l.StatusCode,
				HTTPVersion: "HTTP/1.1",
				Headers:     nameValues(l.ResponseHeaders),
				Content:     Content{Size: len(l.ResponseBody), MimeType: l.ResponseContentType, Text: l.ResponseBody},
				HeadersSize: -1,
				BodySize:    len(l.ResponseBody),
			},
			Timings: Timings{Wait: l.LatencyMs},
			Comment: l.Error,
		}
		if l.RequestBody != "" {
			e.Request.PostData = &PostData{MimeType: l.ContentType, Text: l.RequestBody}
		}
		f.Log.Entries = append(f.Log.Entries, e)
	}
	return f
}

// Write exports logs to path.
func Write(path string, logs []types.TrafficLog, scheme, version string) error {
	data, err := json.MarshalIndent(Build(logs, scheme, version), "", "  ")
	if err != nil {
		return fmt.Errorf("encode har: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write har: %w", err)
	}
	return nil
}

// Parse reads a HAR file into traffic logs ordered by start time.
func Parse(filePath string) ([]types.TrafficLog, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var hf File
	if err := json.Unmarshal(data, &hf); err != nil {
		return nil, err
	}
	logs := make([]types.TrafficLog, 0, len(hf.Log.Entries))
	for _, e := range hf.Log.Entries {
		ts, err := time.Parse(time.RFC3339Nano, e.StartedDateTime)
		if err != nil {
			return nil, fmt.Errorf("parse startedDateTime: %w", err)
		}
		u, err := url.Parse(e.Request.URL)
		if err != nil {
			return nil, fmt.Errorf("parse request url: %w", err)
		}
		l := types.TrafficLog{
			Timestamp:           ts,
			Method:              strings.ToUpper(e.Request.Method),
			Host:                u.Host,
			Path:                u.Path,
			RequestHeaders:      headerMap(e.Request.Headers),
			StatusCode:          e.Response.Status,
			ResponseHeaders:     headerMap(e.Response.Headers),
			ResponseBody:        decodeBody(e.Response.Content.Text, e.Response.Content.Encoding),
			ResponseContentType: e.Response.Content.MimeType,
			LatencyMs:           e.Time,
			Error:               e.Comment,
		}
		if q := u.Query(); len(q) > 0 {
			l.QueryParams = q
		}
		if e.Request.PostData != nil {
			l.RequestBody = decodeBody(e.Request.PostData.Text, e.Request.PostData.Encoding)
			l.ContentType = e.Request.PostData.MimeType
		}
		logs = append(logs, l)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.Before(logs[j].Timestamp)
	})
	for i := range logs {
		logs[i].Seq = i + 1
	}
	return logs, nil
}

func nameValues(m map[string]string) []NameValue {
	out := make([]NameValue, 0, len(m))
	for k, v := range m {
		out = append(out, NameValue{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func queryString(q map[string][]string) []NameValue {
	out := make([]NameValue, 0, len(q))
	for k, vs := range q {
		for _, v := range vs {
			out = append(out, NameValue{Name: k, Value: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func headerMap(nvs []NameValue) map[string]string {
	if len(nvs) == 0 {
		return nil
	}
	out := make(map[string]string, len(nvs))
	for _, h := range nvs {
		out[h.Name] = h.Value
	}
	return out
}

func decodeBody(text, encoding string) string {
	if strings.EqualFold(encoding, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	return text
}
