package config

// RaidNode holds info required to set a raid coordinator node.
//
// All values are kept in string type and parsed by the services
// which consume them.
type RaidNode struct {
	// ID is the uuid of the raid node.
	ID string

	// ServerAddr is the address of the raid node rpc server.
	ServerAddr string
	// ServerPort is the port of the raid node rpc server.
	ServerPort string
	// AdminPort is the port of the http diagnostics server.
	AdminPort string

	// WorkDir is the working directory of the raid node.
	WorkDir string

	// PolicyFile is the path of the policy definition file.
	PolicyFile string

	// ParityLocation is the parity root path for xor encoded files.
	ParityLocation string
	// ParityLocationRS is the parity root path for rs encoded files.
	ParityLocationRS string
	// RSParityLength is the number of parity blocks per rs stripe.
	RSParityLength string

	// RescanInterval is the period between two traversal passes.
	RescanInterval string
	// JobPollInterval is the period between two job state polls.
	JobPollInterval string
	// AuditInterval is the period between two placement audits.
	AuditInterval string

	// MaxFilesPerJob is the maximum number of files batched in one job.
	MaxFilesPerJob string
	// MaxJobsPerScan is the maximum number of jobs created in one pass.
	MaxJobsPerScan string
	// MaxFilesPerScan is the maximum number of files batched in one pass.
	MaxFilesPerScan string
	// MaxConcurrentJobs is the ceiling of in-flight jobs.
	MaxConcurrentJobs string

	// NumMovingThreads is the size of the block moving worker pool.
	NumMovingThreads string
	// BlockMoveQueueLength is the capacity of the block move queue.
	// Zero disables corrective block movement.
	BlockMoveQueueLength string

	// ExecutionMode selects the work execution strategy.
	ExecutionMode string

	// LogLocation is the file path of raid node logging.
	// Default output path is stderr.
	LogLocation string
}
