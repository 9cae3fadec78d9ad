package lode

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics record matches.
var ErrNoMetricsFound = errors.New("no metrics records found")

// NewReadDataset opens a dataset for reading with the write path's layout
// and codec.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := newDataset(dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// NewReadDatasetFS opens a filesystem dataset for reading.
func NewReadDatasetFS(dataset, root string) (lode.Dataset, error) {
	return NewReadDataset(dataset, lode.NewFSFactory(root))
}

// NewReadDatasetS3 opens an S3 dataset for reading.
func NewReadDatasetS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewReadDataset(dataset, factory)
}

// TurnFilter narrows QueryTurns. Empty fields match everything.
type TurnFilter struct {
	SessionID string
	PersonaID string
	Day       string
}

func (f TurnFilter) matchesSnapshot(snap *lode.DatasetSnapshot) bool {
	return snapshotMatches(snap, "record_kind", RecordKindTurn) &&
		snapshotMatches(snap, "session_id", f.SessionID) &&
		snapshotMatches(snap, "persona", f.PersonaID) &&
		snapshotMatches(snap, "day", f.Day)
}

func (f TurnFilter) matchesRecord(rec *TurnRecord) bool {
	return (f.SessionID == "" || rec.SessionID == f.SessionID) &&
		(f.PersonaID == "" || rec.Persona == f.PersonaID) &&
		(f.Day == "" || rec.Day == f.Day)
}

// QueryTurns reads archived turns matching the filter, ordered by start
// time. Manifest paths pre-filter snapshots; record fields are authoritative.
// A turn seen in more than one snapshot is returned once.
func QueryTurns(ctx context.Context, ds lode.Dataset, filter TurnFilter) ([]*TurnRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	var out []*TurnRecord
	seen := make(map[string]struct{})
	for _, snap := range snapshots {
		if !filter.matchesSnapshot(snap) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindTurn {
				continue
			}
			rec, err := fromTurnRecordMap(m)
			if err != nil {
				return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
			}
			if rec.User == nil {
				continue
			}
			if !filter.matchesRecord(rec) {
				continue
			}
			key := rec.SessionID + "/" + rec.User.ID.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
	}

	slices.SortStableFunc(out, func(a, b *TurnRecord) int {
		return cmp.Compare(a.StartedAt.UnixNano(), b.StartedAt.UnixNano())
	})
	return out, nil
}

// QueryLatestMetrics returns the most recent metrics record, optionally
// restricted to one client.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, clientID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	// Snapshots are ordered by creation time; walk newest first.
	for _, snap := range slices.Backward(snapshots) {
		if !snapshotMatches(snap, "record_kind", RecordKindMetrics) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if clientID != "" && record["client_id"] != clientID {
				continue
			}
			return record, nil
		}
	}
	return nil, ErrNoMetricsFound
}

// snapshotMatches reports whether any file in the snapshot sits under the
// exact key=value partition. An empty value matches everything.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		// Exact segment match: session_id=1 must not match session_id=10.
		if slices.Contains(strings.Split(f.Path, "/"), segment) {
			return true
		}
	}
	return false
}

