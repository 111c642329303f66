package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Tokens maps a token symbol to its address.
type Tokens map[string]common.Address

// Pairs maps two token symbols to their pair address, in both orders.
type Pairs map[string]map[string]common.Address

// LoadTokens reads a `symbol: address` YAML document.
func LoadTokens(path string) (Tokens, error) {
	raw := map[string]string{}
	if err := readYAML(path, &raw); err != nil {
		return nil, err
	}
	tokens := make(Tokens, len(raw))
	for symbol, address := range raw {
		parsed, err := parseAddress(address)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", symbol, err)
		}
		tokens[symbol] = parsed
	}
	return tokens, nil
}

// LoadPairs reads a `symbolA: {symbolB: pairAddress}` YAML document and mirrors it,
// so both Pairs[a][b] and Pairs[b][a] resolve.
func LoadPairs(path string) (Pairs, error) {
	raw := map[string]map[string]string{}
	if err := readYAML(path, &raw); err != nil {
		return nil, err
	}
	pairs := make(Pairs, len(raw))
	for a, inner := range raw {
		for b, address := range inner {
			parsed, err := parseAddress(address)
			if err != nil {
				return nil, fmt.Errorf("pair %s/%s: %w", a, b, err)
			}
			pairs.add(a, b, parsed)
			pairs.add(b, a, parsed)
		}
	}
	return pairs, nil
}

// Lookup returns the pair address for two symbols.
func (p Pairs) Lookup(a, b string) (common.Address, bool) {
	inner, ok := p[a]
	if !ok {
		return common.Address{}, false
	}
	address, ok := inner[b]
	return address, ok
}

// Resolve returns the address for a symbol, or parses s as an address.
func (t Tokens) Resolve(s string) (common.Address, error) {
	if address, ok := t[s]; ok {
		return address, nil
	}
	if address, ok := t[strings.ToUpper(s)]; ok {
		return address, nil
	}
	return parseAddress(s)
}

func (p Pairs) add(a, b string, address common.Address) {
	inner, ok := p[a]
	if !ok {
		inner = make(map[string]common.Address)
		p[a] = inner
	}
	inner[b] = address
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
