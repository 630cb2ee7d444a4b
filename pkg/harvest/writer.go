package harvest

import (
	"errors"
	"fmt"

	"github.com/canopy-network/subnetx/pkg/dataset"
	"go.uber.org/zap"
)

// Writer appends fetched rows to their subnet's dataset, skipping blocks the
// checkpoints already hold. Appenders are opened on first use and kept until Close.
// Writer is used from one goroutine only, after its batch has been fetched.
type Writer struct {
	store       dataset.Store
	checkpoints *Checkpoints
	appenders   map[uint64]dataset.Appender
	logger      *zap.Logger
}

func NewWriter(store dataset.Store, checkpoints *Checkpoints, logger *zap.Logger) *Writer {
	return &Writer{
		store:       store,
		checkpoints: checkpoints,
		appenders:   map[uint64]dataset.Appender{},
		logger:      logger,
	}
}

// Write persists results in order and flushes every open dataset.
// It returns the number of rows appended.
func (w *Writer) Write(results []Result) (int, error) {
	written := 0
	for _, res := range results {
		if res.Skipped() {
			continue
		}
		for _, e := range res.Entries {
			if w.checkpoints.Has(e.Netuid, e.Row.Block) {
				continue
			}
			a, err := w.appender(e.Netuid)
			if err != nil {
				return written, err
			}
			if err := a.Append(e.Row); err != nil {
				return written, fmt.Errorf("append block %d to dataset %d: %w", e.Row.Block, e.Netuid, err)
			}
			w.checkpoints.Add(e.Netuid, e.Row.Block)
			written++
		}
	}
	return written, w.flush()
}

func (w *Writer) appender(netuid uint64) (dataset.Appender, error) {
	if a, ok := w.appenders[netuid]; ok {
		return a, nil
	}
	a, err := w.store.Open(netuid)
	if err != nil {
		return nil, err
	}
	w.logger.Debug("Opened dataset", zap.Uint64("netuid", netuid))
	w.appenders[netuid] = a
	return a, nil
}

func (w *Writer) flush() error {
	var errs []error
	for netuid, a := range w.appenders {
		if err := a.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush dataset %d: %w", netuid, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every open dataset.
func (w *Writer) Close() error {
	var errs []error
	for netuid, a := range w.appenders {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dataset %d: %w", netuid, err))
		}
		delete(w.appenders, netuid)
	}
	return errors.Join(errs...)
}
