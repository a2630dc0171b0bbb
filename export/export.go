// Package export implements the logical backup/restore surface of spec.md
// §6: "Datastore::export(writer, config) / import(reader) — logical backup
// and restore in SurrealQL statement form". It is the supplemented
// change-feed consumer of SPEC_FULL.md §5: every committed catalog.Delta a
// Datastore produces can be rendered to a writer and replayed from a
// reader, batched per config.Config.ExportBatchSize the way
// migrations.Migrator batches its own progress writes.
//
// Export format. Each record is two lines: a human-readable SurrealQL-shaped
// comment (-- CREATE/UPDATE/DELETE <table>) followed by a machine block
// carrying the exact catalog.Delta and value.Value, since reconstructing a
// Value from SurrealQL text would require the statement parser spec.md §1
// places out of scope for this core. Import reads the machine block only;
// the comment exists for operators reading a dump by eye.
package export

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/surrealdb/surreal-core/catalog"
	"github.com/surrealdb/surreal-core/common/value"
)

// Config tunes one export/import run.
type Config struct {
	// BatchSize flushes the writer after this many records; 0 uses
	// config.Config.ExportBatchSize's documented default of 1000.
	BatchSize int
}

// Record is one exported unit: a committed delta plus the record value it
// applies to (a None Value for a ChangeDelete).
type Record struct {
	Delta catalog.Delta
	Value value.Value
}

const machinePrefix = "#!surql-export:"

// Export writes records to w in commit order, flushing every
// cfg.BatchSize records (spec.md §6; SPEC_FULL.md §5).
func Export(w io.Writer, records []Record, cfg Config) error {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	bw := bufio.NewWriter(w)
	for i, rec := range records {
		if _, err := bw.WriteString(comment(rec) + "\n"); err != nil {
			return fmt.Errorf("export: write comment: %w", err)
		}
		enc, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("export: encode record %d: %w", i, err)
		}
		if _, err := bw.WriteString(machinePrefix + enc + "\n"); err != nil {
			return fmt.Errorf("export: write record: %w", err)
		}
		if (i+1)%batch == 0 {
			if err := bw.Flush(); err != nil {
				return fmt.Errorf("export: flush batch: %w", err)
			}
		}
	}
	return bw.Flush()
}

func comment(rec Record) string {
	verb := "CREATE"
	switch rec.Delta.Kind {
	case catalog.ChangeUpdate:
		verb = "UPDATE"
	case catalog.ChangeDelete:
		verb = "DELETE"
	}
	return fmt.Sprintf("-- %s %s", verb, rec.Delta.Table)
}

// Import reads every record written by Export and invokes apply for each,
// in file order (commit order, by construction of Export). A malformed or
// truncated machine block is an error; the comment lines are skipped.
func Import(r io.Reader, apply func(Record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, machinePrefix) {
			continue
		}
		rec, err := decodeRecord(strings.TrimPrefix(line, machinePrefix))
		if err != nil {
			return fmt.Errorf("import: decode record: %w", err)
		}
		if err := apply(rec); err != nil {
			return fmt.Errorf("import: apply record: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("import: scan: %w", err)
	}
	return nil
}

// wireRecord is Record's JSON-safe mirror: catalog.Delta's RecordKey is raw
// bytes (base64 via encoding/json's []byte support is fine), but
// value.Value needs its own mirror since common/value.OrderedMap keeps its
// key order in unexported fields json.Marshal cannot see.
type wireRecord struct {
	NamespaceID int64     `json:"ns"`
	DatabaseID  int64     `json:"db"`
	Table       string    `json:"table"`
	RecordKey   []byte    `json:"key"`
	Kind        uint8     `json:"kind"`
	CommittedAt int64     `json:"committed_at_unix_nano"`
	Value       wireValue `json:"value"`
}

func encodeRecord(rec Record) (string, error) {
	wv, err := toWire(rec.Value)
	if err != nil {
		return "", err
	}
	wr := wireRecord{
		NamespaceID: int64(rec.Delta.NamespaceID),
		DatabaseID:  int64(rec.Delta.DatabaseID),
		Table:       rec.Delta.Table,
		RecordKey:   rec.Delta.RecordKey,
		Kind:        uint8(rec.Delta.Kind),
		CommittedAt: rec.Delta.CommittedAt.UnixNano(),
		Value:       wv,
	}
	b, err := json.Marshal(wr)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeRecord(enc string) (Record, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return Record{}, err
	}
	var wr wireRecord
	if err := json.Unmarshal(raw, &wr); err != nil {
		return Record{}, err
	}
	v, err := fromWire(wr.Value)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Delta: catalog.Delta{
			NamespaceID: catalog.ID(wr.NamespaceID),
			DatabaseID:  catalog.ID(wr.DatabaseID),
			Table:       wr.Table,
			RecordKey:   wr.RecordKey,
			Kind:        catalog.ChangeKind(wr.Kind),
			CommittedAt: timeFromUnixNano(wr.CommittedAt),
		},
		Value: v,
	}, nil
}
