package domain

// Content-addressed records. Each is stored immutably under the identifier
// derived from its canonical encoding; together they form the auditable chain
// job -> assignment -> result without a central mutable ledger.

// NodeIdentity is the record a node id is derived from.
type NodeIdentity struct {
	WalletAddress string   `json:"wallet_address"`
	PublicKey     string   `json:"public_key"`
	Capabilities  []string `json:"capabilities"`
	RegisteredAt  int64    `json:"registered_at"`
}

// JobDescriptor is the immutable description of a submitted job.
type JobDescriptor struct {
	JobID     string `json:"job_id"`
	Submitter string `json:"submitter"`
	InputRef  string `json:"input_ref"`
	FeeAmount string `json:"fee_amount"`
	CreatedAt int64  `json:"created_at"`
}

// Assignment links a job to the node that claimed it.
type Assignment struct {
	JobRef     string `json:"job_ref"`
	NodeRef    string `json:"node_ref"`
	AssignedAt int64  `json:"assigned_at"`
	Status     string `json:"status"`
}

// ResultLink closes the chain with the output of a completed job.
type ResultLink struct {
	JobRef      string `json:"job_ref"`
	NodeRef     string `json:"node_ref"`
	OutputRef   string `json:"output_ref"`
	CompletedAt int64  `json:"completed_at"`
}
