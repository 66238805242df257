package inmemdb

import (
	"sync"
	"time"

	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/unlock"
	"github.com/didisacademy/academy/core/user"
)

type (
	// DB is an in-memory store for tests and local development. Records are copied in and out
	// so callers never share memory with the tables.
	DB struct {
		user   *userTable
		module *moduleTable
		unlock *unlockTable
	}

	userTable struct {
		table map[string]*user.User
		mutex sync.RWMutex
	}

	moduleTable struct {
		table map[int64]*module.Module
		pkSeq int64
		mutex sync.RWMutex
	}

	unlockKey struct {
		userID   string
		moduleID int64
		level    string
	}

	unlockTable struct {
		table  map[int64]*unlock.Record
		unique map[unlockKey]int64
		claims map[int64]time.Time
		pkSeq  int64
		mutex  sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		user:   &userTable{table: make(map[string]*user.User)},
		module: &moduleTable{table: make(map[int64]*module.Module)},
		unlock: &unlockTable{table: make(map[int64]*unlock.Record), unique: make(map[unlockKey]int64), claims: make(map[int64]time.Time)},
	}
}
