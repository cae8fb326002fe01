package chain

import "github.com/0xPolygonHermez/zkevm-txqueue/config/types"

// Config for the connection to the chains and the signing keys
type Config struct {
	// Networks are the chains the queue can submit txs to
	Networks []NetworkConfig `mapstructure:"Networks"`

	// RPCTimeout bounds each request to a node
	RPCTimeout types.Duration `mapstructure:"RPCTimeout"`

	// Keystores are the encrypted keys of the addresses the queue signs for
	Keystores []KeystoreFileConfig `mapstructure:"Keystores"`
}

// NetworkConfig is the node of one chain
type NetworkConfig struct {
	// ChainID of the network, it's checked against the node on startup
	ChainID uint64 `mapstructure:"ChainID"`

	// URL of the JSON-RPC endpoint of the node
	URL string `mapstructure:"URL"`
}

// KeystoreFileConfig has all the information needed to load a private key from a key store file
type KeystoreFileConfig struct {
	// Path is the file path for the key store file
	Path string `mapstructure:"Path"`

	// Password is the password to decrypt the key store file
	Password string `mapstructure:"Password"`
}
