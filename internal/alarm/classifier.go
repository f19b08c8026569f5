package alarm

// Status is the health bucket a meter falls into
type Status string

const (
	StatusNormal  Status = "normal"
	StatusAlarm   Status = "alarm"
	StatusOffline Status = "offline"
)

// Classifier buckets meters by connectivity and remaining credit
type Classifier struct {
	defaultThreshold float64
}

// NewClassifier creates a classifier. defaultThreshold applies to meters that
// report no alarm threshold of their own.
func NewClassifier(defaultThreshold float64) *Classifier {
	if defaultThreshold <= 0 {
		defaultThreshold = 100
	}
	return &Classifier{defaultThreshold: defaultThreshold}
}

// Threshold returns the effective alarm threshold for a meter
func (c *Classifier) Threshold(reported float64) float64 {
	if reported <= 0 {
		return c.defaultThreshold
	}
	return reported
}

// Classify places a meter in exactly one bucket. Offline wins over alarm.
func (c *Classifier) Classify(balance, reportedThreshold float64, online bool) Status {
	if !online {
		return StatusOffline
	}
	if balance > 0 && balance < c.Threshold(reportedThreshold) {
		return StatusAlarm
	}
	return StatusNormal
}
