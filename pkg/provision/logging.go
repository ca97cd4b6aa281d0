package provision

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one provisioning attempt.
type OperationLog struct {
	Operation     string
	TransactionID string
	AccountID     string
	Origin        string
	Outcome       Outcome
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithMaxAllocationAttempts overrides the identifier allocation budget.
func WithMaxAllocationAttempts(maxAttempts int) ServiceOption {
	return func(service *Service) {
		service.maxAttempts = maxAttempts
	}
}

// WithIdentifierGenerator overrides the candidate identifier generator.
func WithIdentifierGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		service.generate = generate
	}
}
