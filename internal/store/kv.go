package store

import (
	"encoding/binary"
	"encoding/json"
	"strings"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// Key layout shared by the LSM backends:
//
//	c|<path>\x00<id:8 BE>  -> JSON changeset
//	p|<path>               -> empty
const (
	changesetPrefix = "c|"
	pathPrefix      = "p|"
)

func changesetKey(path string, id int) []byte {
	k := make([]byte, 0, len(changesetPrefix)+len(path)+9)
	k = append(k, changesetPrefix...)
	k = append(k, path...)
	k = append(k, 0)
	return binary.BigEndian.AppendUint64(k, uint64(id))
}

func pathKey(path string) []byte {
	return append([]byte(pathPrefix), path...)
}

// scanPrefix is the smallest key prefix covering every candidate for q.
func scanPrefix(q HistoryQuery) []byte {
	if q.Recursion == vcs.RecursionNone || q.Recursion == "" {
		return append([]byte(changesetPrefix+q.Path), 0)
	}
	return []byte(changesetPrefix + strings.TrimSuffix(q.Path, "/"))
}

// decodeChangesetKey returns the path portion of a changeset key.
func decodeChangesetKey(k []byte) (string, bool) {
	if len(k) < len(changesetPrefix)+9 {
		return "", false
	}
	body := k[len(changesetPrefix) : len(k)-9]
	if k[len(k)-9] != 0 {
		return "", false
	}
	return string(body), true
}

func encodeChangeset(cs vcs.Changeset) ([]byte, error) {
	return json.Marshal(cs)
}

func decodeRecord(k, v []byte) (Record, bool, error) {
	path, ok := decodeChangesetKey(k)
	if !ok {
		return Record{}, false, nil
	}
	r := Record{Path: path}
	if err := json.Unmarshal(v, &r.Changeset); err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func prefixUpperBound(prefix []byte) []byte {
	b := append([]byte(nil), prefix...)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}
