package badgerdb

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/timshannon/badgerhold/v4"
)

const maxRetries = 5

// createDB opens a badgerhold store in dir, or in memory if dir is empty.
func createDB(dir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dir) <= 0

	opts := badger.DefaultOptions(dir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	return db, nil
}
