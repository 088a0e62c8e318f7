// Package vcs is a thin client gateway for a remote version-control history
// service. A Connector produces authenticated Handles; QueryChangesetIDs runs
// the single history query the benchmark cares about.
package vcs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"

// VersionLatest selects the tip of history.
const VersionLatest = "T"

// Recursion controls how a history query treats a folder path.
type Recursion string

const (
	RecursionNone     Recursion = "none"
	RecursionOneLevel Recursion = "one-level"
	RecursionFull     Recursion = "full"
)

// ParseRecursion accepts the wire names of Recursion. Empty means none.
func ParseRecursion(s string) (Recursion, error) {
	switch Recursion(strings.ToLower(strings.TrimSpace(s))) {
	case "", RecursionNone:
		return RecursionNone, nil
	case RecursionOneLevel:
		return RecursionOneLevel, nil
	case RecursionFull:
		return RecursionFull, nil
	}
	return "", fmt.Errorf("unknown recursion %q (expected none, one-level, full)", s)
}

// ChangesetVersion returns the version spec for history up to and including id.
func ChangesetVersion(id int) string {
	return "C" + strconv.Itoa(id)
}

// ParseVersionSpec returns the highest changeset id a version spec admits.
// Zero means unbounded (latest).
func ParseVersionSpec(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, VersionLatest) {
		return 0, nil
	}
	if len(s) > 1 && (s[0] == 'C' || s[0] == 'c') {
		id, err := strconv.Atoi(s[1:])
		if err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, fmt.Errorf("invalid version spec %q (expected T or C<id>)", s)
}

// Changeset is one entry of a path's history.
type Changeset struct {
	ID           int       `json:"changeset_id"`
	Owner        string    `json:"owner,omitempty"`
	Committer    string    `json:"committer,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	CreationDate time.Time `json:"creation_date"`
}

// HistoryQuery mirrors the parameters of a server history request.
type HistoryQuery struct {
	Path           string
	Version        string
	Recursion      Recursion
	MaxCount       int // 0 = unbounded
	IncludeChanges bool
	SlotMode       bool
}

// LatestFileHistory is the query the benchmark issues for every path: latest
// version, no recursion, no count limit.
func LatestFileHistory(path string) HistoryQuery {
	return HistoryQuery{
		Path:      path,
		Version:   VersionLatest,
		Recursion: RecursionNone,
	}
}

// Handle is an authenticated session with the history service.
// Implementations must tolerate concurrent QueryHistory calls.
type Handle interface {
	QueryHistory(ctx context.Context, q HistoryQuery) ([]Changeset, error)
	Close() error
}

// Connector establishes new Handles.
type Connector interface {
	Connect(ctx context.Context) (Handle, error)
}

// QueryChangesetIDs returns the ids of every changeset touching path. When h
// is nil a fresh handle is connected for this call and closed afterwards.
func QueryChangesetIDs(ctx context.Context, c Connector, path string, h Handle) ([]int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vcs.query_history")
	defer span.End()
	span.SetAttributes(
		attribute.String("vcs.path", path),
		attribute.Bool("vcs.on_demand", h == nil),
	)

	if h == nil {
		nh, err := c.Connect(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "connect failed")
			return nil, err
		}
		defer nh.Close()
		h = nh
	}

	history, err := h.QueryHistory(ctx, LatestFileHistory(path))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}
	ids := make([]int, len(history))
	for i, cs := range history {
		ids[i] = cs.ID
	}
	span.SetAttributes(attribute.Int("vcs.changesets", len(ids)))
	return ids, nil
}
