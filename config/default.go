package config

// DefaultValues is the default configuration
const DefaultValues = `
[Log]
Environment = "development" # "production" or "development"
Level = "info"
Outputs = ["stderr"]

[Server]
Host = "0.0.0.0"
Port = 8124
ReadTimeout = "60s"
WriteTimeout = "60s"
MaxRequestsPerIPAndSecond = 500
EnableHttpLog = true
BatchRequestsEnabled = false
BatchRequestsLimit = 20
EnableWebSocket = true
WebSocketBufferSize = 256

[DB]
Enabled = false
User = "txqueue_user"
Password = "txqueue_password"
Name = "txqueue_db"
Host = "zkevm-txqueue-db"
Port = "5432"
EnableLog = false
MaxConns = 200
QueryLimit = 100000

[Scheduler]
TickInterval = "1s"
MaxConcurrent = 5
MaxConcurrentPerChain = 0
	[Scheduler.Aging]
	LowToNormal = "5m"
	NormalToHigh = "10m"
	HighToUrgent = "15m"

[Sender]
Workers = 5
QueueSize = 25
SubmitTimeout = "30s"

[Monitor]
Workers = 5
QueueSize = 25
InitialWaitInterval = "3s"
RetryWaitInterval = "3s"
ConfirmationTimeout = "30m"
ReceiptTimeout = "10s"

[Recovery]
RetryLimit = 3
BackoffBase = "5s"
BackoffMultiplier = 2.0
BackoffMax = "5m"
AutoRecover = false
AutoRecoverMaxCostGwei = 10000000
FeeBumpPercent = 20
GasLimitBumpPercent = 50

[CircuitBreaker]
Enabled = true
FailureThreshold = 5
FailureWindow = "1m"
ResetTimeout = "30s"

[Chain]
RPCTimeout = "10s"
	[[Chain.Networks]]
	ChainID = 1337
	URL = "http://localhost:8545"

[Metrics]
Host = "0.0.0.0"
Port = 9091
Enabled = false
ProfilingHost = "0.0.0.0"
ProfilingPort = 6060
ProfilingEnabled = false
`
