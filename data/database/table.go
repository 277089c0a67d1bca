package database

import "go.mongodb.org/mongo-driver/mongo"

// Table is implemented by every persisted model.
type Table interface {
	GetTableName() string
}

// Indexed models declare the indexes EnsureIndexes creates.
type Indexed interface {
	Table
	Indexes() []mongo.IndexModel
}

// DBProvider returns the current database, false while Mongo is not ready.
type DBProvider func() (*mongo.Database, bool)
