package neodb

import (
	"errors"
)

var ErrInvalidDatabase = errors.New("invalid or unrecognized database file")
var ErrUnknownVersion = errors.New("database version is newer than this client")
var ErrCorruptEntry = errors.New("corrupt database entry")
var ErrEmptyFolder = errors.New("no loadable difficulties in folder")
var ErrLoadInProgress = errors.New("a database load is in progress")
var ErrNotLoaded = errors.New("database was not loaded properly")
var ErrBadConfig = errors.New("invalid engine configuration")
