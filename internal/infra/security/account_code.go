package security

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"

	"github.com/tranzio/tranzio-api/internal/core/port"
)

const accountCodePrefix = "TZ"

// SnowflakeCodeGenerator issues dealer codes from a snowflake node.
type SnowflakeCodeGenerator struct {
	node *snowflake.Node
}

// NewSnowflakeCodeGenerator builds a generator for the given node id (0-1023).
func NewSnowflakeCodeGenerator(nodeID int64) (*SnowflakeCodeGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node: %w", err)
	}
	return &SnowflakeCodeGenerator{node: node}, nil
}

// Next returns a new code such as TZ2F8K1QX0G3.
func (g *SnowflakeCodeGenerator) Next() string {
	return accountCodePrefix + strings.ToUpper(g.node.Generate().Base36())
}

var _ port.AccountCodeGenerator = (*SnowflakeCodeGenerator)(nil)
