package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainkit/hsync/internal/source"
)

// sourceJSON is the on-disk shape of a single event source: hex strings
// in, go-ethereum types out.
type sourceJSON struct {
	Name                 string     `json:"name"`
	Kind                 string     `json:"kind"` // "log_filter" | "factory"
	Addresses            []string   `json:"addresses"`
	Topics               [][]string `json:"topics"`
	EventSelector        string     `json:"eventSelector"`
	ChildAddressLocation int        `json:"childAddressLocation"`
	StartBlock           int64      `json:"startBlock"`
	EndBlock             *int64     `json:"endBlock"`
	MaxBlockRange        int64      `json:"maxBlockRange"`
}

// LoadSources reads path as a JSON array of event sources and converts
// each into a *source.Source, validating kind and uniqueness of name.
func LoadSources(path string, chainID int64) ([]*source.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read sources file: %w", err)
	}

	var entries []sourceJSON
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("config: parse sources file: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	out := make([]*source.Source, 0, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			return nil, fmt.Errorf("config: duplicate source name %q", e.Name)
		}
		seen[e.Name] = true

		src, err := e.toSource(chainID)
		if err != nil {
			return nil, fmt.Errorf("config: source %q: %w", e.Name, err)
		}
		out = append(out, src)
	}

	return out, nil
}

func (e sourceJSON) toSource(chainID int64) (*source.Source, error) {
	kind, err := parseKind(e.Kind)
	if err != nil {
		return nil, err
	}

	addrs := make([]common.Address, len(e.Addresses))
	for i, a := range e.Addresses {
		addrs[i] = common.HexToAddress(a)
	}

	topics := make([][]common.Hash, len(e.Topics))
	for i, group := range e.Topics {
		hashes := make([]common.Hash, len(group))
		for j, h := range group {
			hashes[j] = common.HexToHash(h)
		}
		topics[i] = hashes
	}

	criteria := source.Criteria{
		Addresses:            addrs,
		Topics:               topics,
		ChildAddressLocation: e.ChildAddressLocation,
	}
	if e.EventSelector != "" {
		criteria.EventSelector = common.HexToHash(e.EventSelector)
	}

	if kind == source.KindFactory && len(addrs) == 0 {
		return nil, fmt.Errorf("factory source requires at least one factory address")
	}

	return &source.Source{
		Name:          e.Name,
		ChainID:       chainID,
		Kind:          kind,
		Criteria:      criteria,
		StartBlock:    e.StartBlock,
		EndBlock:      e.EndBlock,
		MaxBlockRange: e.MaxBlockRange,
	}, nil
}

func parseKind(s string) (source.Kind, error) {
	switch s {
	case "log_filter", "":
		return source.KindLogFilter, nil
	case "factory":
		return source.KindFactory, nil
	default:
		return 0, fmt.Errorf("unknown source kind %q", s)
	}
}
