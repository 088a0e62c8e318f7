package vcs

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Connect procedures served by the history service.
const (
	HistoryServiceName    = "histbench.v1.HistoryService"
	AuthenticateProcedure = "/" + HistoryServiceName + "/Authenticate"
	QueryHistoryProcedure = "/" + HistoryServiceName + "/QueryHistory"
)

// HTTP routes served by the history service.
const (
	TokenPath   = "/api/v1/auth/token"
	HistoryPath = "/api/v1/history"
	PathsPath   = "/api/v1/paths"
)

// TokenResponse is returned by a successful authentication.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HistoryResponse is the JSON body of a history query.
type HistoryResponse struct {
	Path       string      `json:"path"`
	Changesets []Changeset `json:"changesets"`
	Count      int         `json:"count"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Values encodes q as URL query parameters.
func (q HistoryQuery) Values() url.Values {
	v := url.Values{}
	v.Set("path", q.Path)
	if q.Version != "" {
		v.Set("version", q.Version)
	}
	if q.Recursion != "" {
		v.Set("recursion", string(q.Recursion))
	}
	if q.MaxCount > 0 {
		v.Set("max_count", strconv.Itoa(q.MaxCount))
	}
	if q.IncludeChanges {
		v.Set("include_changes", "true")
	}
	if q.SlotMode {
		v.Set("slot_mode", "true")
	}
	return v
}

// HistoryQueryFromValues decodes URL query parameters written by Values.
func HistoryQueryFromValues(v url.Values) (HistoryQuery, error) {
	q := HistoryQuery{
		Path:    strings.TrimSpace(v.Get("path")),
		Version: v.Get("version"),
	}
	if q.Path == "" {
		return q, fmt.Errorf("path is required")
	}
	rec, err := ParseRecursion(v.Get("recursion"))
	if err != nil {
		return q, err
	}
	q.Recursion = rec
	if s := v.Get("max_count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid max_count %q", s)
		}
		q.MaxCount = n
	}
	q.IncludeChanges, _ = strconv.ParseBool(v.Get("include_changes"))
	q.SlotMode, _ = strconv.ParseBool(v.Get("slot_mode"))
	return q, nil
}

// Struct encodes q for the QueryHistory procedure.
func (q HistoryQuery) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"path":            q.Path,
		"version":         q.Version,
		"recursion":       string(q.Recursion),
		"max_count":       q.MaxCount,
		"include_changes": q.IncludeChanges,
		"slot_mode":       q.SlotMode,
	})
}

// HistoryQueryFromStruct decodes a QueryHistory request message.
func HistoryQueryFromStruct(s *structpb.Struct) (HistoryQuery, error) {
	f := s.GetFields()
	q := HistoryQuery{
		Path:           strings.TrimSpace(f["path"].GetStringValue()),
		Version:        f["version"].GetStringValue(),
		MaxCount:       int(f["max_count"].GetNumberValue()),
		IncludeChanges: f["include_changes"].GetBoolValue(),
		SlotMode:       f["slot_mode"].GetBoolValue(),
	}
	if q.Path == "" {
		return q, fmt.Errorf("path is required")
	}
	if q.MaxCount < 0 {
		return q, fmt.Errorf("invalid max_count %d", q.MaxCount)
	}
	rec, err := ParseRecursion(f["recursion"].GetStringValue())
	if err != nil {
		return q, err
	}
	q.Recursion = rec
	return q, nil
}

// HistoryStruct encodes a QueryHistory response message.
func HistoryStruct(path string, history []Changeset) (*structpb.Struct, error) {
	items := make([]any, 0, len(history))
	for _, cs := range history {
		items = append(items, map[string]any{
			"changeset_id":  cs.ID,
			"owner":         cs.Owner,
			"committer":     cs.Committer,
			"comment":       cs.Comment,
			"creation_date": cs.CreationDate.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{
		"path":       path,
		"changesets": items,
		"count":      len(history),
	})
}

// HistoryFromStruct decodes a QueryHistory response message.
func HistoryFromStruct(s *structpb.Struct) ([]Changeset, error) {
	values := s.GetFields()["changesets"].GetListValue().GetValues()
	out := make([]Changeset, 0, len(values))
	for i, v := range values {
		f := v.GetStructValue().GetFields()
		if f == nil {
			return nil, fmt.Errorf("changeset %d: not an object", i)
		}
		cs := Changeset{
			ID:        int(f["changeset_id"].GetNumberValue()),
			Owner:     f["owner"].GetStringValue(),
			Committer: f["committer"].GetStringValue(),
			Comment:   f["comment"].GetStringValue(),
		}
		if ts := f["creation_date"].GetStringValue(); ts != "" {
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("changeset %d: creation_date: %w", cs.ID, err)
			}
			cs.CreationDate = t
		}
		out = append(out, cs)
	}
	return out, nil
}

// TokenStruct encodes an Authenticate response message.
func TokenStruct(tok TokenResponse) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"token":      tok.Token,
		"expires_at": tok.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
}

// TokenFromStruct decodes an Authenticate response message.
func TokenFromStruct(s *structpb.Struct) (TokenResponse, error) {
	f := s.GetFields()
	tok := TokenResponse{Token: f["token"].GetStringValue()}
	if tok.Token == "" {
		return tok, fmt.Errorf("empty token")
	}
	if ts := f["expires_at"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return tok, fmt.Errorf("expires_at: %w", err)
		}
		tok.ExpiresAt = t
	}
	return tok, nil
}
