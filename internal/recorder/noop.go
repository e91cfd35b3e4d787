package recorder

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordEvent(_ *CircleEvent) error        { return nil }
func (n *NoopRecorder) RecordPayout(_ *PayoutEvent) error       { return nil }
func (n *NoopRecorder) RecordPenalty(_ *PenaltyEvent) error     { return nil }
func (n *NoopRecorder) Payouts(_ string) ([]PayoutEvent, error) { return nil, nil }
func (n *NoopRecorder) Close() error                            { return nil }
