// Package contracts defines the domain value types shared across the
// document-generation engine: orders, intake snapshots, prompt versions,
// execution records, and the pipeline result surface.
package contracts

import "time"

// Order is the externally-owned purchase entity the engine operates on.
// The engine may only touch orchestration-related fields and append to
// DocumentVersions; it never creates or deletes Orders.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Order struct {
	OrderID                string               `json:"order_id"`
	ServiceCode            string               `json:"service_code"`
	Status                 string               `json:"status"`
	PaymentConfirmed       bool                 `json:"payment_confirmed"`
	OrchestrationStatus    RunStatus            `json:"orchestration_status,omitempty"`
	CurrentVersion         int                  `json:"current_version"`
	RegenerationCount      int                  `json:"regeneration_count"`
	PromptVersionUsed      *PromptVersion       `json:"prompt_version_used,omitempty"`
	LastOrchestrationError *OrchestrationError  `json:"last_orchestration_error,omitempty"`
	FailedAt               *time.Time           `json:"failed_at,omitempty"`
	DocumentVersions       []DocumentVersion    `json:"document_versions,omitempty"`
}

// Order status values that close an order to further generation.
const (
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
	OrderStatusClosed    = "CLOSED"
)

// Closed reports whether the order status is terminal for generation purposes.
func (o *Order) Closed() bool {
	switch o.Status {
	case OrderStatusCancelled, OrderStatusRefunded, OrderStatusClosed:
		return true
	}
	return false
}

// DocumentVersion is one entry in an order's append-only version history.
type DocumentVersion struct {
	Version        int                `json:"version"`
	ExecutionID    string             `json:"execution_id"`
	Documents      *RenderedDocuments `json:"documents,omitempty"`
	OutputHash     string             `json:"output_hash"`
	PromptVersion  *PromptVersion     `json:"prompt_version,omitempty"`
	IsRegeneration bool               `json:"is_regeneration"`
	CreatedAt      time.Time          `json:"created_at"`
}

// ServiceDefinition describes a sellable document service. The engine only
// needs to know whether the code maps to an active definition.
type ServiceDefinition struct {
	Code    string `json:"code" yaml:"code"`
	Name    string `json:"name" yaml:"name"`
	DocType string `json:"doc_type" yaml:"doc_type"`
	Active  bool   `json:"active" yaml:"active"`
}
