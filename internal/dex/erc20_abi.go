package dex

const erc20ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

var erc20ABI = &lazyABI{definition: erc20ABIJSON}
