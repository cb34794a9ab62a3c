package instruments

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instrument is one tradable pair the platform exposes, with the chart
// timeframes we know how to read for it.
type Instrument struct {
	Pair       string `yaml:"pair"`
	Timeframes []int  `yaml:"timeframes"`
	OTC        bool   `yaml:"otc"`
}

// Catalog is the set of instruments capture may be started on.
type Catalog struct {
	instruments map[string]Instrument
}

// LoadCatalog reads the YAML instrument list at path.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instrument catalog: %w", err)
	}
	var file struct {
		Instruments []Instrument `yaml:"instruments"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing instrument catalog %s: %w", path, err)
	}
	return NewCatalog(file.Instruments)
}

// NewCatalog normalizes and indexes the given instruments.
func NewCatalog(list []Instrument) (*Catalog, error) {
	if len(list) == 0 {
		return nil, errors.New("instrument catalog is empty")
	}
	idx := make(map[string]Instrument, len(list))
	for _, ins := range list {
		pair, err := NormalizePair(ins.Pair)
		if err != nil {
			return nil, err
		}
		ins.Pair = pair
		if len(ins.Timeframes) == 0 {
			ins.Timeframes = []int{60}
		}
		idx[pair] = ins
	}
	return &Catalog{instruments: idx}, nil
}

// Lookup returns the catalog entry for a pair, accepting any input casing.
func (c *Catalog) Lookup(pair string) (Instrument, bool) {
	norm, err := NormalizePair(pair)
	if err != nil {
		return Instrument{}, false
	}
	ins, ok := c.instruments[norm]
	return ins, ok
}

// Pairs lists the normalized pair names in the catalog.
func (c *Catalog) Pairs() []string {
	out := make([]string, 0, len(c.instruments))
	for pair := range c.instruments {
		out = append(out, pair)
	}
	return out
}

// SupportsTimeframe reports whether the pair is known and readable at the
// given timeframe.
func (c *Catalog) SupportsTimeframe(pair string, seconds int) bool {
	ins, ok := c.Lookup(pair)
	if !ok {
		return false
	}
	for _, tf := range ins.Timeframes {
		if tf == seconds {
			return true
		}
	}
	return false
}

// NormalizePair upper-cases and strips separators: "eur/usd" -> "EURUSD",
// keeping an "-OTC" suffix intact.
func NormalizePair(pair string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	p = strings.ReplaceAll(p, "/", "")
	p = strings.ReplaceAll(p, " ", "")
	if strings.HasSuffix(p, "OTC") && !strings.HasSuffix(p, "-OTC") {
		p = strings.TrimSuffix(p, "OTC")
		p = strings.TrimSuffix(p, "-")
		p += "-OTC"
	}
	if p == "" || p == "-OTC" {
		return "", errors.New("instrument pair is empty")
	}
	return p, nil
}
