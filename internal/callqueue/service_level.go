package callqueue

import (
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// serviceLevel counts answered callers against a wait threshold
type serviceLevel struct {
	target    int
	threshold time.Duration
	answered  int
	inTime    int
}

func newServiceLevel(target, thresholdSecs int) *serviceLevel {
	s := &serviceLevel{}
	s.configure(target, thresholdSecs)
	return s
}

// configure changes the goal without dropping the counts so far
func (s *serviceLevel) configure(target, thresholdSecs int) {
	s.target = target
	s.threshold = time.Duration(thresholdSecs) * time.Second
}

// record books one answered caller; a wait equal to the threshold is in time
func (s *serviceLevel) record(wait time.Duration) {
	s.answered++
	if wait <= s.threshold {
		s.inTime++
	}
}

// percent is the share answered in time. With nothing answered the goal is met.
func (s *serviceLevel) percent() float64 {
	if s.answered == 0 {
		return 100
	}
	return 100 * float64(s.inTime) / float64(s.answered)
}

func (s *serviceLevel) snapshot() types.ServiceLevel {
	return types.ServiceLevel{
		Target:        s.target,
		ThresholdSecs: int(s.threshold / time.Second),
		AnsweredInSL:  s.inTime,
		TotalAnswered: s.answered,
		CurrentSL:     s.percent(),
	}
}
