package domain

type ChainID string
type ChainName string

const (
	// Chain IDs
	ChainIDEthereum ChainID = "1"
	ChainIDPolygon  ChainID = "137"
	ChainIDAmoy     ChainID = "80002"

	// Chain Names (Internal Codes)
	ChainNameEthereum ChainName = "ETHEREUM_MAINNET"
	ChainNamePolygon  ChainName = "POLYGON_MAINNET"
	ChainNameAmoy     ChainName = "POLYGON_AMOY"
)

// ChainIDToName maps ChainID to its human-readable InternalCode/Name.
var ChainIDToName = map[ChainID]ChainName{
	ChainIDEthereum: ChainNameEthereum,
	ChainIDPolygon:  ChainNamePolygon,
	ChainIDAmoy:     ChainNameAmoy,
}

// Name returns the internal code for the chain, falling back to the raw id.
func (c ChainID) Name() string {
	if name, ok := ChainIDToName[c]; ok {
		return string(name)
	}
	return string(c)
}
