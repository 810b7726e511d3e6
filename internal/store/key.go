package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/chainkit/hsync/internal/source"
)

// CriteriaKey derives a stable identifier for a (chainID, criteria) pair,
// used as the row key both store backends index cached intervals by.
// Addresses and topic lists are sorted before hashing so the key is
// independent of declaration order.
func CriteriaKey(chainID int64, c source.Criteria) string {
	addrs := make([]string, len(c.Addresses))
	for i, a := range c.Addresses {
		addrs[i] = a.Hex()
	}
	sort.Strings(addrs)

	h := sha256.New()
	fmt.Fprintf(h, "chain:%d", chainID)
	for _, a := range addrs {
		fmt.Fprintf(h, "|addr:%s", a)
	}
	for pos, topics := range c.Topics {
		row := make([]string, len(topics))
		for i, t := range topics {
			row[i] = t.Hex()
		}
		sort.Strings(row)
		fmt.Fprintf(h, "|topic%d:%v", pos, row)
	}
	fmt.Fprintf(h, "|selector:%s|loc:%d", c.EventSelector.Hex(), c.ChildAddressLocation)

	return hex.EncodeToString(h.Sum(nil))
}
