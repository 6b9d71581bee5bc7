// Package idgen generates unique, time-ordered identifiers backed by a
// snowflake node.
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init configures the generator with the given node id. Calling Init again
// replaces the node.
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("failed to create snowflake node: %w", err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// GenID returns a new snowflake id. The generator falls back to node 0 when
// Init was never called.
func GenID() int64 {
	mu.Lock()
	if node == nil {
		n, err := snowflake.NewNode(0)
		if err != nil {
			mu.Unlock()
			panic(err)
		}
		node = n
	}
	n := node
	mu.Unlock()
	return n.Generate().Int64()
}

// GenIDString returns a new snowflake id in base58 form.
func GenIDString() string {
	mu.Lock()
	if node == nil {
		n, err := snowflake.NewNode(0)
		if err != nil {
			mu.Unlock()
			panic(err)
		}
		node = n
	}
	n := node
	mu.Unlock()
	return n.Generate().Base58()
}
