package models

// All lists every table for AutoMigrate, parents before children.
func All() []interface{} {
	return []interface{}{
		&Tokenization{},
		&TokenHolding{},
		&RevenueEvent{},
		&DividendSchedule{},
		&DividendDistribution{},
		&DividendPayment{},
		&DistributionLock{},
		&GovernanceProposal{},
		&Vote{},
		&TreasuryTransaction{},
		&TreasuryApproval{},
		&ExecutionAttempt{},
		&OutboxMessage{},
		&Notification{},
		&NotarizationReceipt{},
		&SystemLog{},
	}
}
