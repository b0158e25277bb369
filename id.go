package tally

import "github.com/otimizaads/tally/id"

// ID is the primary identifier type for all Tally entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
