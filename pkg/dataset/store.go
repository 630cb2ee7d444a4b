package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	filePrefix = "subtensor_"
	fileSuffix = "_data.csv"
)

// Store is the harvester's view of the per-subnet datasets.
type Store interface {
	// Netuids lists the subnets that already have a dataset.
	Netuids() ([]uint64, error)
	// Blocks returns the block column of every well-formed row of netuid's dataset.
	Blocks(netuid uint64) ([]uint64, error)
	// Open returns an appender for netuid's dataset, creating it with a header if needed.
	Open(netuid uint64) (Appender, error)
}

// Appender appends rows to a single dataset.
type Appender interface {
	Append(r Row) error
	Flush() error
	Close() error
}

// FileName is the dataset file name for netuid.
func FileName(netuid uint64) string {
	return filePrefix + strconv.FormatUint(netuid, 10) + fileSuffix
}

func parseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	netuid, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return netuid, true
}

// Dir stores one CSV file per subnet in a directory.
type Dir struct {
	path   string
	logger *zap.Logger
}

// NewDir returns a Dir rooted at path, creating the directory if it does not exist.
func NewDir(path string, logger *zap.Logger) (*Dir, error) {
	if path == "" {
		return nil, errors.New("dataset directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset directory %s: %w", path, err)
	}
	return &Dir{path: path, logger: logger}, nil
}

func (d *Dir) Path() string { return d.path }

func (d *Dir) file(netuid uint64) string {
	return filepath.Join(d.path, FileName(netuid))
}

func (d *Dir) Netuids() ([]uint64, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list dataset directory %s: %w", d.path, err)
	}
	var out []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if netuid, ok := parseFileName(e.Name()); ok {
			out = append(out, netuid)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (d *Dir) Blocks(netuid uint64) ([]uint64, error) {
	f, err := os.Open(d.file(netuid))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open dataset %d: %w", netuid, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dataset %d header: %w", netuid, err)
	}
	col := slices.Index(header, blockColumn)
	if col < 0 {
		d.logger.Warn("dataset has no block column", zap.Uint64("netuid", netuid))
		return nil, nil
	}

	var blocks []uint64
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return nil, fmt.Errorf("read dataset %d: %w", netuid, err)
		}
		if col >= len(rec) {
			continue
		}
		h, err := strconv.ParseUint(strings.TrimSpace(rec[col]), 10, 64)
		if err != nil {
			continue
		}
		blocks = append(blocks, h)
	}
	return blocks, nil
}

func (d *Dir) Open(netuid uint64) (Appender, error) {
	path := d.file(netuid)
	info, statErr := os.Stat(path)
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat dataset %d: %w", netuid, statErr)
	}
	// an empty file has no header yet either
	needsHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dataset %d: %w", netuid, err)
	}
	a := &csvAppender{f: f, w: csv.NewWriter(f)}
	if needsHeader {
		if err := a.w.Write(Columns); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write dataset %d header: %w", netuid, err)
		}
	}
	return a, nil
}

type csvAppender struct {
	f *os.File
	w *csv.Writer
}

func (a *csvAppender) Append(r Row) error {
	return a.w.Write(r.Record())
}

func (a *csvAppender) Flush() error {
	a.w.Flush()
	return a.w.Error()
}

func (a *csvAppender) Close() error {
	return errors.Join(a.Flush(), a.f.Close())
}
