// Package archive writes ledger snapshots as JSON Lines and moves them to and
// from Google Cloud Storage.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dvloznov/proforma/internal/ledger"
)

// maxLineBytes bounds a single encoded record.
const maxLineBytes = 1 << 20

// WriteJSONL writes one JSON object per snapshot row, in row order.
func WriteJSONL(w io.Writer, snap ledger.Snapshot) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := 0; i < snap.Len(); i++ {
		if err := enc.Encode(snap.Row(i)); err != nil {
			return i, fmt.Errorf("WriteJSONL: row %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return snap.Len(), fmt.Errorf("WriteJSONL: flush: %w", err)
	}
	return snap.Len(), nil
}

// ReadJSONL decodes records written by WriteJSONL. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]ledger.TransactionRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []ledger.TransactionRecord
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var rec ledger.TransactionRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("ReadJSONL: line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ReadJSONL: %w", err)
	}
	return out, nil
}
