package db

// Config provide fields to configure the pool db
type Config struct {
	// Enabled stores the queue and the recovery records in postgres, when disabled they only live in memory
	Enabled bool `mapstructure:"Enabled"`

	// Database name
	Name string `mapstructure:"Name"`

	// Database User name
	User string `mapstructure:"User"`

	// Database Password of the user
	Password string `mapstructure:"Password"`

	// Host address of database
	Host string `mapstructure:"Host"`

	// Port Number of database
	Port string `mapstructure:"Port"`

	// EnableLog
	EnableLog bool `mapstructure:"EnableLog"`

	// MaxConns is the maximum number of connections in the pool.
	MaxConns int `mapstructure:"MaxConns"`

	// QueryLimit is the maximum number of rows returned by the load queries
	QueryLimit uint64 `mapstructure:"QueryLimit"`
}
