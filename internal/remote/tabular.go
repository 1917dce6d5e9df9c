// internal/remote/tabular.go
package remote

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	tuskerr "tusk/internal/errors"
	"tusk/internal/tree"
)

// Row is one appended record. Keys are column names; values are rendered
// with their JSON encoding for JSON-lines tables and as plain strings for
// CSV.
type Row map[string]any

// AppendRow appends a row to a tabular file in branch's staging area. The
// base version is the staged one if present, otherwise the committed one,
// otherwise an empty table. The rewritten file is restaged at its real
// path, so a following CommitStaged picks it up like any other entry.
// Appends to the same table are serialized; appends to different tables
// proceed in parallel.
func (s *Staging) AppendRow(ctx context.Context, branch, tablePath string, row Row) (*Entry, error) {
	tablePath = strings.Trim(path.Clean(tablePath), "/")
	if tablePath == "" || tablePath == "." {
		return nil, tuskerr.Validation("table path cannot be empty", nil)
	}
	ext := strings.ToLower(path.Ext(tablePath))
	switch ext {
	case ".csv", ".jsonl", ".ndjson":
	default:
		return nil, tuskerr.Validation(
			fmt.Sprintf("%s is not a tabular file (want .csv, .jsonl or .ndjson)", tablePath), nil)
	}
	if len(row) == 0 {
		return nil, tuskerr.Validation("row cannot be empty", nil)
	}

	mu := s.tableLock(branch, tablePath)
	mu.Lock()
	defer mu.Unlock()

	base, err := s.tableBase(ctx, branch, tablePath)
	if err != nil {
		return nil, err
	}

	var content []byte
	if ext == ".csv" {
		content, err = appendCSVRow(base, row)
	} else {
		content, err = appendJSONLRow(base, row)
	}
	if err != nil {
		return nil, tuskerr.Conflict(tablePath, err.Error())
	}

	hash, err := s.objects.Put(ctx, content)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		Branch:    branch,
		Path:      tablePath,
		Hash:      hash,
		Size:      int64(len(content)),
		Tabular:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.entries.put(e); err != nil {
		return nil, err
	}

	s.logger.Info("appended row",
		zap.String("branch", branch),
		zap.String("path", tablePath))
	return e, nil
}

func (s *Staging) tableLock(branch, tablePath string) *sync.Mutex {
	mu, _ := s.tables.LoadOrStore(branch+entrySep+tablePath, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// tableBase returns the bytes the append builds on: staged version first,
// then committed, then nothing.
func (s *Staging) tableBase(ctx context.Context, branch, tablePath string) ([]byte, error) {
	if e, err := s.entries.get(branch, tablePath); err == nil {
		if !e.Tabular {
			return nil, tuskerr.Conflict(tablePath, "a non-tabular upload is pending at this path")
		}
		return s.objects.Get(ctx, e.Hash)
	} else if !tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
		return nil, err
	}

	tip, err := s.refs.Get(branch)
	if err != nil {
		return nil, err
	}
	head, err := s.commits.Get(tip)
	if err != nil {
		return nil, err
	}

	entry, err := tree.Resolve(ctx, s.objects, head.TreeHash, tablePath)
	if err != nil {
		if tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if entry.Kind != tree.KindFile {
		return nil, tuskerr.Conflict(tablePath, "path is a directory")
	}
	return s.objects.Get(ctx, entry.Hash)
}

// appendCSVRow rewrites a CSV table with one more record. Columns the
// existing header lacks are added to it, with earlier records backfilled
// as empty cells.
func appendCSVRow(base []byte, row Row) ([]byte, error) {
	var header []string
	var records [][]string

	if len(base) > 0 {
		rd := csv.NewReader(bytes.NewReader(base))
		rd.FieldsPerRecord = -1
		all, err := rd.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("existing content is not valid CSV: %v", err)
		}
		if len(all) > 0 {
			header = all[0]
			records = all[1:]
		}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}

	var added []string
	for name := range row {
		if _, ok := cols[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	for _, name := range added {
		cols[name] = len(header)
		header = append(header, name)
	}

	rec := make([]string, len(header))
	for name, v := range row {
		rec[cols[name]] = csvCell(v)
	}
	records = append(records, rec)

	var buf bytes.Buffer
	wr := csv.NewWriter(&buf)
	if err := wr.Write(header); err != nil {
		return nil, err
	}
	for _, r := range records {
		// Backfill rows written before the header grew.
		for len(r) < len(header) {
			r = append(r, "")
		}
		if err := wr.Write(r); err != nil {
			return nil, err
		}
	}
	wr.Flush()
	return buf.Bytes(), wr.Error()
}

func csvCell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// appendJSONLRow appends one JSON object line. Existing lines are left
// byte-for-byte as they were.
func appendJSONLRow(base []byte, row Row) ([]byte, error) {
	line, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("row is not encodable: %v", err)
	}

	out := append([]byte(nil), base...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	out = append(out, line...)
	out = append(out, '\n')
	return out, nil
}
