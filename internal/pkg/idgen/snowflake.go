// Package idgen issues primary keys for gateway-owned rows. Installations
// and linked resources get prefixed snowflake IDs so an ID seen in a log
// line or console URL is attributable to its table.
package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Initialize sets up the snowflake node. Call once at process start; the
// node ID distinguishes gateway replicas sharing a database.
func Initialize(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

func generate() string {
	if node == nil {
		_ = Initialize(1)
	}
	return node.Generate().String()
}

// InstallationID returns a fresh installations primary key.
func InstallationID() string {
	return "inst_" + generate()
}

// ResourceID returns a fresh linked_resources primary key.
func ResourceID() string {
	return "lres_" + generate()
}
