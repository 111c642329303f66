package model

import "github.com/ethereum/go-ethereum/common"

// Factory identifies the pair registry contract that is scanned for pools.
type Factory struct {
	Address       common.Address `json:"address"`
	CreationBlock uint64         `json:"creationBlock"`
	Fee           uint32         `json:"fee"`
}

// NewFactory builds a Factory value.
func NewFactory(address common.Address, creationBlock uint64, fee uint32) Factory {
	return Factory{Address: address, CreationBlock: creationBlock, Fee: fee}
}
