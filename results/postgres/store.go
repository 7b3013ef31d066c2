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

// Package postgres stores the run ledger in PostgreSQL.
package postgres

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"minihpl/results"
)

type store struct {
	*sql.DB
}

var _ results.Store = (*store)(nil)

var crTablesSQL = []string{
	`CREATE TABLE IF NOT EXISTS hpl_runs (
id TEXT NOT NULL PRIMARY KEY,
started TIMESTAMP WITH TIME ZONE NOT NULL,
n INTEGER NOT NULL,
nb INTEGER NOT NULL,
procs INTEGER NOT NULL,
elimination_ns BIGINT NOT NULL,
total_ns BIGINT NOT NULL,
gflops DOUBLE PRECISION NOT NULL,
residual DOUBLE PRECISION NOT NULL,
passed BOOLEAN NOT NULL,
verify TEXT NOT NULL
)`,
}

var crIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS hpl_runs_started ON hpl_runs(started);`,
}

const runColumns = `id, started, n, nb, procs, elimination_ns, total_ns, gflops, residual, passed, verify`

// Dial connects to the database at url and prepares the ledger table.
func Dial(url string) (results.Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return New(db)
}

// New returns a ledger over an open database handle.
func New(db *sql.DB) (results.Store, error) {
	st := &store{DB: db}
	for _, crTableSQL := range crTablesSQL {
		_, err := st.Exec(crTableSQL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create tables")
		}
	}
	for _, crIndexSQL := range crIndexesSQL {
		_, err := st.Exec(crIndexSQL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create indexes")
		}
	}
	return st, nil
}

func (st *store) Append(rec *results.Record) error {
	_, err := st.Exec(`INSERT INTO hpl_runs (`+runColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Started, rec.N, rec.NB, rec.Procs,
		int64(rec.Elimination), int64(rec.Total),
		rec.GFLOPS, rec.Residual, rec.Passed, rec.Verify)
	return errors.WithStack(err)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*results.Record, error) {
	var rec results.Record
	var elimination, total int64
	err := row.Scan(&rec.ID, &rec.Started, &rec.N, &rec.NB, &rec.Procs,
		&elimination, &total, &rec.GFLOPS, &rec.Residual, &rec.Passed, &rec.Verify)
	if err != nil {
		return nil, err
	}
	rec.Elimination = time.Duration(elimination)
	rec.Total = time.Duration(total)
	rec.Started = rec.Started.UTC()
	return &rec, nil
}

func (st *store) Get(id string) (*results.Record, error) {
	rec, err := scanRecord(st.QueryRow(`SELECT `+runColumns+` FROM hpl_runs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(results.ErrNotFound, "run %q", id)
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return rec, nil
}

func (st *store) List() ([]*results.Record, error) {
	rows, err := st.Query(`SELECT ` + runColumns + ` FROM hpl_runs ORDER BY started, id`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	var recs []*results.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		recs = append(recs, rec)
	}
	return recs, errors.WithStack(rows.Err())
}
