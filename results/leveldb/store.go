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

// Package leveldb stores the run ledger in an embedded LevelDB database.
package leveldb

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"minihpl/results"
)

var (
	runPrefix = []byte("run/")
	idPrefix  = []byte("id/")
)

type store struct {
	path string
	db   *leveldb.DB
}

var _ results.Store = (*store)(nil)

// Open opens or creates the ledger at path.
func Open(path string) (results.Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &store{path: path, db: db}, nil
}

func prefixed(prefix, key []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(key))
	return append(append(k, prefix...), key...)
}

func (st *store) Append(rec *results.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return errors.WithStack(err)
	}
	key := rec.Key()
	batch := new(leveldb.Batch)
	batch.Put(prefixed(runPrefix, key), doc)
	batch.Put(prefixed(idPrefix, []byte(rec.ID)), key)
	return errors.WithStack(st.db.Write(batch, nil))
}

func (st *store) Get(id string) (*results.Record, error) {
	key, err := st.db.Get(prefixed(idPrefix, []byte(id)), nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrapf(results.ErrNotFound, "run %q", id)
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	doc, err := st.db.Get(prefixed(runPrefix, key), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "run %q is indexed but missing", id)
	}
	var rec results.Record
	err = json.Unmarshal(doc, &rec)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &rec, nil
}

func (st *store) List() ([]*results.Record, error) {
	var recs []*results.Record
	iter := st.db.NewIterator(util.BytesPrefix(runPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		var rec results.Record
		err := json.Unmarshal(iter.Value(), &rec)
		if err != nil {
			log.Warningf("skipping unreadable run record %q: %v", iter.Key(), err)
			continue
		}
		recs = append(recs, &rec)
	}
	return recs, errors.WithStack(iter.Error())
}

func (st *store) Close() error {
	return errors.WithStack(st.db.Close())
}

// Drop closes and deletes the database.
func Drop(s results.Store) error {
	st, ok := s.(*store)
	if !ok {
		return errors.Errorf("not a leveldb store: %T", s)
	}
	if err := st.db.Close(); err != nil {
		log.Warningf("failed to close leveldb: %v", err)
	}
	return errors.WithStack(os.RemoveAll(st.path))
}
