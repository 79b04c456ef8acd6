package database

import "go.mongodb.org/mongo-driver/mongo"

// MongodbDB wraps the active database handle so repositories can be
// constructed against a single injected instance.
type MongodbDB struct {
	DB *mongo.Database
}
