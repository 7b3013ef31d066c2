package main

import (
	"encoding/json"
	"flag"
	"io/ioutil"
	"os"

	"gopkg.in/errgo.v1"

	"minihpl/cmd"
	"minihpl/node"
	"minihpl/results"
)

var (
	configFile = flag.String("config", "", "config file")
	driver     = flag.String("driver", node.DriverLevelDB, "results driver, leveldb or postgres")
	dsn        = flag.String("dsn", "", "results data source; overrides [hpl.results]")
	jsonOut    = flag.Bool("json", false, "print runs as JSON lines")
	id         = flag.String("id", "", "print only the run with this id")
)

func resultsSettings() (*results.Settings, error) {
	rs := &results.Settings{Driver: *driver, DSN: *dsn}
	if *configFile != "" {
		conf, err := ioutil.ReadFile(*configFile)
		if err != nil {
			return nil, errgo.WithCausef(err, node.ErrInvalidSettings, "cannot read %q", *configFile)
		}
		settings, err := node.ParseSettings(string(conf))
		if err != nil {
			return nil, errgo.Mask(err, errgo.Any)
		}
		if settings.Results != nil && *dsn == "" {
			rs = settings.Results
		}
	}
	if rs.DSN == "" {
		return nil, errgo.WithCausef(nil, node.ErrInvalidSettings, "no results ledger configured")
	}
	return rs, nil
}

func main() {
	flag.Parse()

	rs, err := resultsSettings()
	if err != nil {
		cmd.Die(err)
	}
	st, err := node.DialResults(rs)
	if err != nil {
		cmd.Die(errgo.Mask(err, errgo.Any))
	}

	var recs []*results.Record
	if *id != "" {
		rec, err := st.Get(*id)
		if err != nil {
			st.Close()
			cmd.Die(errgo.Mask(err, errgo.Any))
		}
		recs = append(recs, rec)
	} else {
		recs, err = st.List()
		if err != nil {
			st.Close()
			cmd.Die(errgo.Mask(err, errgo.Any))
		}
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				st.Close()
				cmd.Die(errgo.Mask(err))
			}
		}
	} else if err := results.WriteTable(os.Stdout, recs); err != nil {
		st.Close()
		cmd.Die(errgo.Mask(err))
	}
	st.Close()
	cmd.Die(nil)
}
