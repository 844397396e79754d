package registry

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

//go:embed pairs.json
var embeddedPairs []byte

// Listing is the raw source list for one chain: the tokens it knows and the
// pairs it advertises, in source order.
type Listing struct {
	Tokens []domain.Token
	Pairs  []domain.TokenPair
}

// Loader fetches the raw source list for a chain.
type Loader interface {
	Load(ctx context.Context, chainID int64) (Listing, error)
}

type fileFormat struct {
	Chains []struct {
		ChainID int64          `json:"chainId"`
		Tokens  []domain.Token `json:"tokens"`
		Pairs   []struct {
			Base  string `json:"base"`
			Quote string `json:"quote"`
		} `json:"pairs"`
	} `json:"chains"`
}

// FileLoader reads listings from a JSON file. An empty path reads the list
// compiled into the binary.
type FileLoader struct {
	path string
}

// NewFileLoader returns a loader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load parses the file and returns the listing for chainID.
func (l *FileLoader) Load(_ context.Context, chainID int64) (Listing, error) {
	data := embeddedPairs
	if l.path != "" {
		var err error
		data, err = os.ReadFile(l.path)
		if err != nil {
			return Listing{}, fmt.Errorf("registry: read %s: %w", l.path, err)
		}
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return Listing{}, fmt.Errorf("registry: parse pair list: %w", err)
	}
	for _, c := range f.Chains {
		if c.ChainID != chainID {
			continue
		}
		out := Listing{Tokens: c.Tokens}
		for _, p := range c.Pairs {
			out.Pairs = append(out.Pairs, domain.TokenPair{BaseToken: p.Base, QuoteToken: p.Quote})
		}
		return out, nil
	}
	return Listing{}, fmt.Errorf("registry: chain %d: %w", chainID, domain.ErrUnsupportedChain)
}

// ChainIDs lists the chains present in the embedded pair list.
func ChainIDs() []int64 {
	var f fileFormat
	if err := json.Unmarshal(embeddedPairs, &f); err != nil {
		return nil
	}
	ids := make([]int64, 0, len(f.Chains))
	for _, c := range f.Chains {
		ids = append(ids, c.ChainID)
	}
	return ids
}
