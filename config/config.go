// Package config implements the ambient configuration layer of SPEC_FULL.md
// §3: typed, environment-overridable tunables for the RocksDB backend (spec.md
// §4.B), the commit coordinator (§4.D), and the few core-wide knobs spec.md
// §6 names directly (export batch size, idiom recursion limit, query
// timeout). Parsed once at Datastore construction, never read ad hoc from
// os.Getenv deep in a call stack — the same discipline the teacher applies
// to its own tuning surface.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/c2h5oh/datasize"
)

// RocksDB is the tuning surface of spec.md §4.B, "all env-overridable".
type RocksDB struct {
	WriteBufferSize          datasize.ByteSize `toml:"write_buffer_size"`
	MaxWriteBuffers          int               `toml:"max_write_buffers"`
	BlockCacheSize           datasize.ByteSize `toml:"block_cache_size"`
	TargetFileSizeBase       datasize.ByteSize `toml:"target_file_size_base"`
	TargetFileSizeMultiplier int               `toml:"target_file_size_multiplier"`
	MaxOpenFiles             int               `toml:"max_open_files"`
	BlobFileThreshold        datasize.ByteSize `toml:"blob_file_threshold"`
	SSTSpaceLimit            datasize.ByteSize `toml:"sst_space_limit"`

	// Grouped-commit knobs, spec.md §4.D.
	GroupedCommitTimeout       time.Duration `toml:"grouped_commit_timeout"`
	GroupedCommitBatch         int           `toml:"grouped_commit_batch"`
	GroupedCommitWaitThreshold int           `toml:"grouped_commit_wait_threshold"`
}

// Config is the full set of tunables a Datastore is constructed with.
type Config struct {
	RocksDB RocksDB `toml:"rocksdb"`

	ExportBatchSize     int           `toml:"export_batch_size"`
	IdiomRecursionLimit int           `toml:"idiom_recursion_limit"`
	QueryTimeout        time.Duration `toml:"query_timeout"`

	// SortSpillMemLimit bounds exec/transform.Sort's in-memory buffer
	// before it spills a run to temporary storage — not named in spec.md's
	// tuning table directly, but the same byte-size-tunable shape as the
	// RocksDB knobs above, so it lives alongside them rather than as a
	// bare untyped constant.
	SortSpillMemLimit datasize.ByteSize `toml:"sort_spill_mem_limit"`

	BlockConcurrency int `toml:"block_concurrency"` // 0 = runtime.NumCPU()
}

// Default returns the baseline configuration spec.md §4.B/§4.D/§6 document.
func Default() Config {
	return Config{
		RocksDB: RocksDB{
			WriteBufferSize:            64 * datasize.MB,
			MaxWriteBuffers:            4,
			BlockCacheSize:             512 * datasize.MB,
			TargetFileSizeBase:         64 * datasize.MB,
			TargetFileSizeMultiplier:   2,
			MaxOpenFiles:               1024,
			BlobFileThreshold:          4 * datasize.KB,
			SSTSpaceLimit:              0, // 0 disables the read-only-plus-delete failsafe
			GroupedCommitTimeout:       5 * time.Millisecond,
			GroupedCommitBatch:        4096,
			GroupedCommitWaitThreshold: 12,
		},
		ExportBatchSize:     1000,
		IdiomRecursionLimit: 64,
		QueryTimeout:        30 * time.Second,
		SortSpillMemLimit:   64 * datasize.MB,
		BlockConcurrency:    0,
	}
}

// Load reads a TOML config file on top of Default(), so a file may specify
// only the fields it wants to override. The caller supplies the path
// (cmd/surreal passes its --config flag); no environment variable is read.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	if err := decode(f, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	_, err := toml.NewDecoder(r).Decode(cfg)
	return err
}

// envOverrides lists every SURREAL_* environment variable this core reads,
// paired with a setter closure, mirroring the explicit var list of spec.md
// §6 ("SURREAL_ROCKSDB_*, SURREAL_EXPORT_BATCH_SIZE,
// SURREAL_IDIOM_RECURSION_LIMIT, SURREAL_QUERY_TIMEOUT_MS. All optional").
func (c *Config) envOverrides() []struct {
	name string
	set  func(string) error
} {
	return []struct {
		name string
		set  func(string) error
	}{
		{"SURREAL_ROCKSDB_WRITE_BUFFER_SIZE", byteSizeSetter(&c.RocksDB.WriteBufferSize)},
		{"SURREAL_ROCKSDB_MAX_WRITE_BUFFERS", intSetter(&c.RocksDB.MaxWriteBuffers)},
		{"SURREAL_ROCKSDB_BLOCK_CACHE_SIZE", byteSizeSetter(&c.RocksDB.BlockCacheSize)},
		{"SURREAL_ROCKSDB_TARGET_FILE_SIZE_BASE", byteSizeSetter(&c.RocksDB.TargetFileSizeBase)},
		{"SURREAL_ROCKSDB_TARGET_FILE_SIZE_MULTIPLIER", intSetter(&c.RocksDB.TargetFileSizeMultiplier)},
		{"SURREAL_ROCKSDB_MAX_OPEN_FILES", intSetter(&c.RocksDB.MaxOpenFiles)},
		{"SURREAL_ROCKSDB_BLOB_FILE_THRESHOLD", byteSizeSetter(&c.RocksDB.BlobFileThreshold)},
		{"SURREAL_ROCKSDB_SST_SPACE_LIMIT", byteSizeSetter(&c.RocksDB.SSTSpaceLimit)},
		{"SURREAL_ROCKSDB_GROUPED_COMMIT_TIMEOUT_MS", millisSetter(&c.RocksDB.GroupedCommitTimeout)},
		{"SURREAL_ROCKSDB_GROUPED_COMMIT_BATCH", intSetter(&c.RocksDB.GroupedCommitBatch)},
		{"SURREAL_ROCKSDB_GROUPED_COMMIT_WAIT_THRESHOLD", intSetter(&c.RocksDB.GroupedCommitWaitThreshold)},
		{"SURREAL_EXPORT_BATCH_SIZE", intSetter(&c.ExportBatchSize)},
		{"SURREAL_IDIOM_RECURSION_LIMIT", intSetter(&c.IdiomRecursionLimit)},
		{"SURREAL_QUERY_TIMEOUT_MS", millisSetter(&c.QueryTimeout)},
		{"SURREAL_SORT_SPILL_MEM_LIMIT", byteSizeSetter(&c.SortSpillMemLimit)},
		{"SURREAL_BLOCK_CONCURRENCY", intSetter(&c.BlockConcurrency)},
	}
}

// WithEnvOverrides applies every SURREAL_* environment variable present in
// the process environment on top of c, returning the merged Config.
func (c Config) WithEnvOverrides() (Config, error) {
	for _, o := range c.envOverrides() {
		raw, ok := os.LookupEnv(o.name)
		if !ok || raw == "" {
			continue
		}
		if err := o.set(raw); err != nil {
			return c, fmt.Errorf("config: %s=%q: %w", o.name, raw, err)
		}
	}
	return c, nil
}

func byteSizeSetter(dst *datasize.ByteSize) func(string) error {
	return func(s string) error { return dst.UnmarshalText([]byte(s)) }
}

func intSetter(dst *int) func(string) error {
	return func(s string) error {
		_, err := fmt.Sscanf(s, "%d", dst)
		return err
	}
}

func millisSetter(dst *time.Duration) func(string) error {
	return func(s string) error {
		var ms int64
		if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
			return err
		}
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
}
