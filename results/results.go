/*
   minihpl - Distributed dense linear system solver
   Copyright (C) 2012-2014  Casey Marshall

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package results keeps a ledger of completed solver runs.
package results

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/basen.v1"

	"minihpl/hpl"
)

var ErrNotFound = errors.New("run not found")

// Record is the persisted summary of one run.
type Record struct {
	ID          string        `json:"id"`
	Started     time.Time     `json:"started"`
	N           int           `json:"n"`
	NB          int           `json:"nb"`
	Procs       int           `json:"procs"`
	Elimination time.Duration `json:"elimination"`
	Total       time.Duration `json:"total"`
	GFLOPS      float64       `json:"gflops"`
	Residual    float64       `json:"residual"`
	Passed      bool          `json:"passed"`
	Verify      string        `json:"verify"`
}

// Store is an append-only run ledger.
type Store interface {
	// Append adds a record.
	Append(rec *Record) error

	// Get returns the record with the given ID, or ErrNotFound.
	Get(id string) (*Record, error)

	// List returns all records in order of start time.
	List() ([]*Record, error)

	Close() error
}

type Settings struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// NewID returns a random Base58 run identifier.
func NewID() (string, error) {
	buf := make([]byte, 12)
	_, err := io.ReadFull(rand.Reader, buf)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return basen.Base58.EncodeToString(buf), nil
}

// NewRecord summarizes report under a fresh ID.
func NewRecord(report *hpl.Report) (*Record, error) {
	id, err := NewID()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Record{
		ID:          id,
		Started:     report.Started.UTC(),
		N:           report.N,
		NB:          report.NB,
		Procs:       report.Procs,
		Elimination: report.Elimination,
		Total:       report.Total,
		GFLOPS:      report.GFLOPS,
		Residual:    report.Normalized,
		Passed:      report.Passed,
		Verify:      string(report.Verify),
	}, nil
}

// Key returns a byte key that sorts records by start time.
func (r *Record) Key() []byte {
	key := make([]byte, 8, 8+len(r.ID))
	binary.BigEndian.PutUint64(key, uint64(r.Started.UnixNano()))
	return append(key, r.ID...)
}

func (r *Record) Status() string {
	if r.Passed {
		return "PASSED"
	}
	return "FAILED"
}

// WriteTable writes records to w as an aligned table.
func WriteTable(w io.Writer, recs []*Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tN\tNB\tP\tELIM (s)\tTOTAL (s)\tGFLOPS\tRESIDUAL\tSTATUS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.4f\t%.4f\t%.4f\t%.2e\t%s\n",
			r.ID, r.Started.Format(time.RFC3339), r.N, r.NB, r.Procs,
			r.Elimination.Seconds(), r.Total.Seconds(), r.GFLOPS, r.Residual, r.Status())
	}
	return errors.WithStack(tw.Flush())
}
