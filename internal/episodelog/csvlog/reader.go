// Package csvlog reads the monitor CSV file emitted by an external trainer's
// environment wrapper.
//
// The file starts with a JSON metadata line prefixed by '#', followed by a
// "r,l,t" header row and one row per completed episode: episode return,
// episode length, and seconds since training start. The trainer appends rows
// as episodes finish, so readers must cope with a file that grows between
// reads and may not exist yet.
package csvlog

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/reachrl/trainwatch/internal/episodelog"
)

// Metadata mirrors the JSON header line of a monitor file.
type Metadata struct {
	TStart float64 `json:"t_start"`
	EnvID  string  `json:"env_id"`
}

// Reader reads all episode entries from a monitor CSV file on each call. The
// timestep of each entry is recovered as the running sum of episode lengths.
type Reader struct {
	path string
}

// NewReader creates a Reader for the given monitor file path. The file does
// not need to exist yet.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// ReadAll parses the full monitor file. A missing file yields zero entries
// and no error, so the caller treats it as "insufficient data" rather than a
// failure. Malformed trailing rows (a partially written episode) are skipped.
func (r *Reader) ReadAll(ctx context.Context) ([]episodelog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read monitor file: %w", err)
	}
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open monitor file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	_, entries, err := parse(f)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadMetadata returns the '#' header of the monitor file, if present.
func (r *Reader) ReadMetadata() (Metadata, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open monitor file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	meta, _, err := parse(f)
	if err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func parse(src io.Reader) (Metadata, []episodelog.Entry, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	// The '#' metadata line contains raw JSON quotes; LazyQuotes keeps the
	// csv reader from rejecting it so it can be rejoined and parsed below.
	cr.LazyQuotes = true

	var (
		meta     Metadata
		entries  []episodelog.Entry
		columns  map[string]int
		timestep int64
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A torn write at the tail should not invalidate earlier rows.
			break
		}
		if len(record) == 0 {
			continue
		}
		if strings.HasPrefix(record[0], "#") {
			raw := strings.TrimPrefix(strings.Join(record, ","), "#")
			if jsonErr := json.Unmarshal([]byte(raw), &meta); jsonErr != nil {
				return Metadata{}, nil, fmt.Errorf("parse monitor metadata: %w", jsonErr)
			}
			continue
		}
		if columns == nil {
			columns = headerIndex(record)
			continue
		}
		entry, ok := parseRow(record, columns)
		if !ok {
			continue
		}
		timestep += int64(entry.Length)
		entry.Timestep = timestep
		entries = append(entries, entry)
	}
	return meta, entries, nil
}

func headerIndex(record []string) map[string]int {
	idx := make(map[string]int, len(record))
	for i, name := range record {
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}

func parseRow(record []string, columns map[string]int) (episodelog.Entry, bool) {
	reward, ok := floatField(record, columns, "r")
	if !ok {
		return episodelog.Entry{}, false
	}
	length, ok := floatField(record, columns, "l")
	if !ok {
		return episodelog.Entry{}, false
	}
	entry := episodelog.Entry{
		Reward: reward,
		Length: int(length),
	}
	if wall, ok := floatField(record, columns, "t"); ok {
		entry.WallTime = wall
	}
	return entry, true
}

func floatField(record []string, columns map[string]int, name string) (float64, bool) {
	i, ok := columns[name]
	if !ok || i >= len(record) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
