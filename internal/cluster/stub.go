package cluster

import "context"

// StubDetector returns canned reports for tests.
type StubDetector struct {
	Reports map[string]Report // keyed by buyer address
	Err     error
	Calls   int
}

// NewStubDetector creates an empty stub.
func NewStubDetector() *StubDetector {
	return &StubDetector{Reports: make(map[string]Report)}
}

var _ Detector = (*StubDetector)(nil)

// SetReport registers a canned report for a buyer address.
func (s *StubDetector) SetReport(buyer string, r Report) {
	r.BuyerAddress = buyer
	s.Reports[buyer] = r
}

func (s *StubDetector) CheckBuyerCluster(_ context.Context, buyer, _ string) (Report, error) {
	s.Calls++
	if s.Err != nil {
		return Report{}, s.Err
	}
	return s.Reports[buyer], nil
}
