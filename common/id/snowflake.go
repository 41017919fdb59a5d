package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Later calls are
// no-ops.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered unique int64 ID. Init must have been called.
func New() int64 {
	return node.Generate().Int64()
}

// NewString is New formatted in base 10. Used where ids end up in file names
// and stream payloads.
func NewString() string {
	return strconv.FormatInt(New(), 10)
}
