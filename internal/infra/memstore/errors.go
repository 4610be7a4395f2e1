package memstore

import "errors"

var errReadOnly = errors.New("memstore: write in read-only view")
